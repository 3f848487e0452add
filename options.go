package tiercache

import (
	"time"

	"github.com/jmgilman/go/fs/core"
)

// Option configures a Cache at construction.
type Option func(*options)

type options struct {
	cfg    Config
	fs     core.FS
	logger *Logger
	clock  Clock
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
//
// Example:
//
//	cfg, _ := tiercache.LoadConfig(fsys, "cache.yaml")
//	c, _ := tiercache.New[string](dir, tiercache.StringCodec{}, tiercache.WithConfig(cfg))
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithFS sets the filesystem the cache directory lives on.
// Defaults to the local OS filesystem.
//
// Example:
//
//	c, _ := tiercache.New[string]("/cache", tiercache.StringCodec{},
//	    tiercache.WithFS(billy.NewMemory()))
func WithFS(fsys core.FS) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithLogger sets the logger used for warnings and maintenance summaries.
// Defaults to a no-op logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the time source used for expiration and access tracking.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithDefaultTTL sets the TTL used when Set is called without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cfg.DefaultTTL = ttl
	}
}

// WithSpillThreshold sets the serialized size above which values go to disk.
// A threshold of zero or less spills every value, including empty ones.
func WithSpillThreshold(bytes int64) Option {
	return func(o *options) {
		if bytes <= 0 {
			bytes = -1
		}
		o.cfg.SpillThreshold = bytes
	}
}

// WithMaxSize sets the aggregate size budget in bytes.
func WithMaxSize(bytes int64) Option {
	return func(o *options) {
		o.cfg.MaxSizeBytes = bytes
	}
}

// WithMaxEntries sets the entry count budget.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		o.cfg.MaxEntries = n
	}
}

// WithMaintenanceInterval sets how often background maintenance runs.
// Zero or a negative interval disables the scheduler; RunMaintenance can
// still be called directly.
func WithMaintenanceInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval <= 0 {
			interval = -1
		}
		o.cfg.MaintenanceInterval = interval
	}
}

// WithChecksumVerification enables digest verification of values loaded from disk.
// A mismatch is handled like any other corrupt file: the entry is evicted and
// the read is a miss.
func WithChecksumVerification(enabled bool) Option {
	return func(o *options) {
		o.cfg.VerifyChecksums = enabled
	}
}

// WithRetainReloaded controls whether values loaded from disk on Get stay in
// memory. Retained values count toward memory usage until evicted.
func WithRetainReloaded(retain bool) Option {
	return func(o *options) {
		o.cfg.ReleaseReloaded = !retain
	}
}

// WithEvictionStrategy selects the eviction strategy by name.
func WithEvictionStrategy(name string) Option {
	return func(o *options) {
		o.cfg.Eviction = name
	}
}

// WithPreloadConcurrency bounds the number of concurrent loads in Preload.
func WithPreloadConcurrency(n int) Option {
	return func(o *options) {
		o.cfg.PreloadConcurrency = n
	}
}
