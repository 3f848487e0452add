package tiercache

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/tiercache/internal/eviction"
	"github.com/jmgilman/go/tiercache/internal/spill"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// Cache is a generic key/value cache backed by memory and a private directory.
//
// Values whose serialized form is larger than the spill threshold are written
// to the directory and read back on demand. Entries expire after their TTL and
// are evicted by the configured strategy when the cache grows past its budget.
// A Cache is safe for concurrent use.
type Cache[V any] struct {
	cfg      Config
	codec    Codec[V]
	store    *spill.Store
	strategy eviction.Strategy
	budget   eviction.Budget
	clock    Clock
	logger   *Logger
	metrics  metrics
	events   observers
	loads    singleflight.Group

	// mu guards entries, size and closed. Disk I/O never happens while it is held.
	mu      sync.Mutex
	entries map[string]*entry[V]
	size    int64
	closed  bool

	stopMaintenance func()
}

// New creates a cache that spills to dir, creating the directory if needed.
//
// Files already present in dir are adopted as spilled entries, so a cache
// reopened on the same directory serves what the previous instance wrote. A
// nil codec selects JSONCodec. Unless disabled, a background maintenance
// goroutine is started; call Close to stop it.
//
// Example:
//
//	c, err := tiercache.New[FormatResult]("/var/cache/fmt", nil,
//	    tiercache.WithMaxSize(128<<20),
//	    tiercache.WithLogger(tiercache.NewSlogLogger(slog.Default())))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func New[V any](dir string, codec Codec[V], opts ...Option) (*Cache[V], error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	o.cfg.SetDefaults()
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "cache directory cannot be empty")
	}

	strategy, err := eviction.ByName(o.cfg.Eviction)
	if err != nil {
		return nil, err
	}

	if codec == nil {
		codec = JSONCodec[V]{}
	}
	if o.fs == nil {
		// The local filesystem is rooted at "/".
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to resolve cache directory %q", dir)
		}
		dir = abs
		o.fs = billy.NewLocal()
	}
	if o.logger == nil {
		o.logger = NewNopLogger()
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}

	store, err := spill.NewStore(o.fs, dir, spill.WithNow(o.clock.Now))
	if err != nil {
		return nil, errors.Wrap(err, errors.GetCode(err), "failed to initialize cache directory")
	}

	c := &Cache[V]{
		cfg:             o.cfg,
		codec:           codec,
		store:           store,
		strategy:        strategy,
		budget:          eviction.NewBudget(o.cfg.MaxSizeBytes, o.cfg.MaxEntries),
		clock:           o.clock,
		logger:          o.logger,
		entries:         make(map[string]*entry[V]),
		stopMaintenance: func() {},
	}

	if err := c.reconstruct(context.Background()); err != nil {
		return nil, err
	}

	if o.cfg.MaintenanceInterval > 0 {
		c.stopMaintenance = c.startMaintenance(o.cfg.MaintenanceInterval)
	}

	return c, nil
}

// Set stores value under key with the default TTL, replacing any previous entry.
func (c *Cache[V]) Set(ctx context.Context, key string, value V) error {
	return c.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL stores value under key for ttl. A ttl of zero or less uses the
// default TTL.
//
// If the serialized value is larger than the spill threshold it is written to
// disk before the entry becomes visible. A failed write is returned and the
// previous entry, if any, is left in place.
func (c *Cache[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if c.isClosed() {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	data, err := c.codec.Marshal(value)
	if err != nil {
		return errors.WrapWithContext(err, errors.CodeInvalidInput, "failed to encode value",
			map[string]interface{}{"key": key})
	}

	size := int64(len(data))
	sum := digest.FromBytes(data)

	var state entryState = resident[V]{value: value}
	if size > c.cfg.SpillThreshold {
		file, err := c.store.Write(ctx, key, data, sum)
		if err != nil {
			c.logger.WithOperation(OpSet).WithKey(key).Warn(ctx, "failed to spill value",
				"size", size, "error", err.Error())
			return errors.WrapWithContext(err, errors.GetCode(err), "failed to spill value",
				map[string]interface{}{"key": key, "size": size})
		}
		state = spilled{file: file}
	}

	now := c.clock.Now()
	e := &entry[V]{
		key:         key,
		state:       state,
		size:        size,
		checksum:    sum,
		createdAt:   now,
		expiresAt:   now.Add(ttl),
		accessCount: 1,
		lastAccess:  now,
	}

	c.mu.Lock()
	old := c.entries[key]
	if old != nil {
		c.removeLocked(old)
	}
	c.entries[key] = e
	c.size += size
	c.mu.Unlock()

	// Spills of the same key share a file, which the write above already replaced.
	if old != nil && old.state.locator() != state.locator() {
		c.removeFile(ctx, old)
	}

	c.checkBudgets(ctx)
	return nil
}

// Get returns the value stored under key.
//
// Expired entries are removed and reported as misses. Spilled values are read
// back from disk; if the file is missing or corrupt the entry is evicted and
// the call reports a miss. Get never returns storage errors.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.recordMiss()
		return zero, false
	}
	if e.expired(now) {
		c.removeLocked(e)
		c.mu.Unlock()
		c.metrics.recordExpiration()
		c.metrics.recordMiss()
		c.removeFile(ctx, e)
		return zero, false
	}
	e.accessCount++
	e.lastAccess = now
	state := e.state
	c.mu.Unlock()

	switch s := state.(type) {
	case resident[V]:
		c.metrics.recordHit()
		return s.value, true
	case loaded[V]:
		c.metrics.recordHit()
		return s.value, true
	case spilled:
		v, err := c.load(ctx, e, s.file)
		if err != nil {
			c.evictCorrupt(ctx, OpGet, e, err)
			c.metrics.recordMiss()
			return zero, false
		}
		c.metrics.recordHit()
		if !c.cfg.ReleaseReloaded && c.retain(e, s.file, v) {
			c.checkBudgets(ctx)
		}
		return v, true
	default:
		c.logger.Error(ctx, "unknown entry state", "key", key, "state", fmt.Sprintf("%T", state))
		c.metrics.recordMiss()
		return zero, false
	}
}

// Delete removes key and its spilled file, if any.
// File removal is best effort; failures are logged.
func (c *Cache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if ok {
		c.removeFile(ctx, e)
	}
}

// Clear removes every entry, wipes the cache directory including files the
// cache did not write, and notifies OnClear observers. Calling it on an empty
// cache is fine. An error is returned only when the directory cannot be purged;
// the in-memory entries are gone either way.
func (c *Cache[V]) Clear(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]*entry[V])
	c.size = 0
	c.mu.Unlock()

	for _, e := range old {
		c.removeFile(ctx, e)
	}

	err := c.store.Purge(ctx)
	c.events.emit()
	logDuration(ctx, c.logger, OpClear, start, "entries", len(old))

	if err != nil {
		c.logger.WithOperation(OpClear).Warn(ctx, "failed to purge cache directory", "error", err.Error())
		return errors.Wrap(err, errors.GetCode(err), "failed to purge cache directory")
	}
	return nil
}

// OnClear registers fn to be called after every Clear.
// The returned function unregisters it.
func (c *Cache[V]) OnClear(fn func()) (cancel func()) {
	return c.events.add(fn)
}

// Keys returns the keys of all live entries in sorted order.
// Expired entries that have not been reaped yet are included.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Size returns the aggregate serialized size of all entries in bytes.
func (c *Cache[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache's size and counters.
func (c *Cache[V]) Stats() Stats {
	now := c.clock.Now()

	c.mu.Lock()
	s := Stats{
		Entries:    len(c.entries),
		TotalSize:  c.size,
		MaxSize:    c.cfg.MaxSizeBytes,
		MaxEntries: c.cfg.MaxEntries,
	}
	for _, e := range c.entries {
		if e.inMemory() {
			s.MemoryUsage += e.size
		} else {
			s.SpilledEntries++
		}
		if e.expired(now) {
			s.ExpiredEntries++
		}
	}
	c.mu.Unlock()

	c.metrics.fill(&s)
	return s
}

// Optimize evicts entries if the cache has reached 80% of its size budget or
// holds more entries than allowed. Victims are taken in strategy order until
// the size is at or below 70% of the budget and the count fits. It returns the
// number of entries evicted.
func (c *Cache[V]) Optimize(ctx context.Context) int {
	c.mu.Lock()
	candidates := make([]eviction.Candidate, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e.candidate())
	}
	victims := c.budget.Plan(c.strategy, candidates, c.size)

	evicted := make([]*entry[V], 0, len(victims))
	for _, key := range victims {
		if e, ok := c.entries[key]; ok && c.removeLocked(e) {
			evicted = append(evicted, e)
		}
	}
	c.mu.Unlock()

	for _, e := range evicted {
		c.metrics.recordEviction(e.size)
		logEviction(ctx, c.logger, e.key, e.size, "budget")
		c.removeFile(ctx, e)
	}

	return len(evicted)
}

// Close stops background maintenance and rejects further writes. It does not
// remove any entries or files. Close is safe to call more than once.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stopMaintenance()
}

// checkBudgets runs Optimize when the hard size or entry limit is exceeded.
func (c *Cache[V]) checkBudgets(ctx context.Context) int {
	c.mu.Lock()
	exceeded := c.budget.Exceeded(c.size, len(c.entries))
	c.mu.Unlock()

	if !exceeded {
		return 0
	}
	return c.Optimize(ctx)
}

// load reads and decodes a spilled value. Concurrent loads of the same file
// share one read.
func (c *Cache[V]) load(ctx context.Context, e *entry[V], file string) (V, error) {
	verify := c.cfg.VerifyChecksums && e.checksum != ""

	res, err, _ := c.loads.Do(file+"@"+e.checksum.String(), func() (any, error) {
		data, err := c.store.Read(ctx, file)
		if err != nil {
			return nil, err
		}

		if verify {
			if actual := digest.FromBytes(data); actual != e.checksum {
				return nil, spill.Corrupt(file, errors.Newf(errors.CodeInternal, "checksum mismatch: expected %s, got %s", e.checksum, actual))
			}
		}

		v, err := c.codec.Unmarshal(data)
		if err != nil {
			return nil, spill.Corrupt(file, err)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	v, _ := res.(V)
	return v, nil
}

// retain keeps a loaded value resident if e is still the live entry for its key
// and is still spilled to file.
func (c *Cache[V]) retain(e *entry[V], file string, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[e.key] != e {
		return false
	}
	if s, ok := e.state.(spilled); !ok || s.file != file {
		return false
	}
	e.state = loaded[V]{value: v, file: file}
	return true
}

// evictCorrupt drops an entry whose file could not be loaded. Failures that
// are not ErrCorruptEntry, such as a cancelled context, leave the entry alone.
func (c *Cache[V]) evictCorrupt(ctx context.Context, op Operation, e *entry[V], err error) {
	if !errors.Is(err, ErrCorruptEntry) {
		c.logger.WithOperation(op).WithKey(e.key).Debug(ctx, "spilled value not loaded", "error", err.Error())
		return
	}

	c.mu.Lock()
	removed := c.removeLocked(e)
	c.mu.Unlock()

	if !removed {
		return
	}

	c.metrics.recordLoadFailure()
	logLoadFailure(ctx, c.logger, op, e.key, err)
	c.removeFile(ctx, e)
}

// removeLocked removes e if it is still the live entry for its key.
// The caller must hold c.mu.
func (c *Cache[V]) removeLocked(e *entry[V]) bool {
	if c.entries[e.key] != e {
		return false
	}
	delete(c.entries, e.key)
	c.size -= e.size
	return true
}

// removeFile deletes the file backing a removed entry, if it has one.
func (c *Cache[V]) removeFile(ctx context.Context, e *entry[V]) {
	file := e.state.locator()
	if file == "" {
		return
	}
	if err := c.store.Remove(ctx, file); err != nil {
		c.logger.WithKey(e.key).Warn(ctx, "failed to remove spilled value", "file", file, "error", err.Error())
	}
}

// reconstruct rebuilds metadata-only entries from the files in the cache
// directory. Recovered entries expire DefaultTTL after their file was written.
func (c *Cache[V]) reconstruct(ctx context.Context) error {
	records, err := c.store.Scan(ctx)
	if err != nil {
		return errors.Wrap(err, errors.GetCode(err), "failed to scan cache directory")
	}

	logger := c.logger.WithOperation(OpRecover)

	c.mu.Lock()
	for _, r := range records {
		if r.ManifestErr != nil {
			logger.Warn(ctx, "ignoring unreadable manifest", "file", r.Locator, "error", r.ManifestErr.Error())
		}
		if _, dup := c.entries[r.Key]; dup {
			logger.Warn(ctx, "key already recovered from another file", "key", r.Key, "file", r.Locator)
			continue
		}

		c.entries[r.Key] = &entry[V]{
			key:        r.Key,
			state:      spilled{file: r.Locator},
			size:       r.Size,
			checksum:   r.Checksum,
			createdAt:  r.ModTime,
			expiresAt:  r.ModTime.Add(c.cfg.DefaultTTL),
			lastAccess: r.ModTime,
		}
		c.size += r.Size
	}
	recovered, size := len(c.entries), c.size
	c.mu.Unlock()

	if recovered > 0 {
		logger.Info(ctx, "recovered spilled entries", "entries", recovered, "size", size)
	}

	c.checkBudgets(ctx)
	return nil
}

func (c *Cache[V]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
