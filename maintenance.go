package tiercache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	// Reaped is the number of expired entries removed.
	Reaped int
	// Evicted is the number of entries evicted to get back under budget.
	Evicted int
	// Duration is how long the run took.
	Duration time.Duration
}

// RunMaintenance removes every expired entry and then checks the budgets,
// whether or not anything was reaped. The background scheduler calls it on
// every tick; it can also be called directly.
func (c *Cache[V]) RunMaintenance(ctx context.Context) MaintenanceReport {
	start := time.Now()
	now := c.clock.Now()

	c.mu.Lock()
	var reaped []*entry[V]
	for _, e := range c.entries {
		if e.expired(now) && c.removeLocked(e) {
			reaped = append(reaped, e)
		}
	}
	c.mu.Unlock()

	for _, e := range reaped {
		c.metrics.recordExpiration()
		c.removeFile(ctx, e)
	}

	report := MaintenanceReport{
		Reaped:  len(reaped),
		Evicted: c.checkBudgets(ctx),
	}
	report.Duration = time.Since(start)

	c.metrics.recordMaintenance(now)
	logMaintenance(ctx, c.logger, report, c.Stats())

	return report
}

// startMaintenance runs RunMaintenance every interval until the returned stop
// function is called. Stop blocks until the goroutine has exited and is safe to
// call multiple times.
func (c *Cache[V]) startMaintenance(interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunMaintenance(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

// Preload reads the given spilled entries into memory ahead of use.
//
// Keys that are missing, expired, or already in memory are skipped. Loads run
// concurrently, bounded by the preload concurrency. A key that fails to load is
// logged and evicted without affecting the others. Preload returns once every
// load has finished and reports how many values were made resident.
func (c *Cache[V]) Preload(ctx context.Context, keys ...string) int {
	start := time.Now()
	now := c.clock.Now()
	logger := c.logger.WithOperation(OpPreload)

	var g errgroup.Group
	g.SetLimit(c.cfg.PreloadConcurrency)

	var count atomic.Int64
	for _, key := range keys {
		c.mu.Lock()
		e, ok := c.entries[key]
		var file string
		if ok && !e.expired(now) {
			if s, isSpilled := e.state.(spilled); isSpilled {
				file = s.file
			}
		}
		c.mu.Unlock()

		if file == "" {
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				logger.Debug(ctx, "preload cancelled", "key", key)
				return nil
			}

			v, err := c.load(ctx, e, file)
			if err != nil {
				c.evictCorrupt(ctx, OpPreload, e, err)
				return nil
			}
			if c.retain(e, file, v) {
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(count.Load())
	logDuration(ctx, c.logger, OpPreload, start, "requested", len(keys), "loaded", n)

	if n > 0 {
		c.checkBudgets(ctx)
	}
	return n
}
