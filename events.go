package tiercache

import (
	"sort"
	"sync"
)

// observers is a registry of callbacks for the "cache cleared" event.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (o *observers) add(fn func()) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[int]func())
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.fns, id)
		})
	}
}

// emit calls every registered callback in registration order.
// Callbacks run outside the lock and may register or cancel observers.
func (o *observers) emit() {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = o.fns[id]
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
