// Package tiercache provides an embeddable, generic key/value cache with a
// memory tier and a disk tier.
//
// Small values live in memory. Values whose serialized form exceeds the spill
// threshold are written to a private directory and read back transparently on
// the next Get. Every entry carries a TTL, and the cache keeps itself inside a
// byte and entry-count budget by evicting the least frequently used entries
// first, breaking ties by least recent use.
//
// # Lifecycle
//
// New creates the directory if needed and adopts any files already in it, so a
// cache reopened on the same directory serves what the previous instance
// spilled. A background goroutine reaps expired entries and re-checks the
// budget every five minutes by default. Close stops it; it does not delete
// anything.
//
//	c, err := tiercache.New[string](dir, tiercache.StringCodec{})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	_ = c.Set(ctx, "greeting", "hello")
//	v, ok := c.Get(ctx, "greeting")
//
// # Errors
//
// Only the write path reports errors. A Set whose spill fails returns the
// failure so the caller knows the value was not cached. Reads never fail: a
// missing or corrupt spill file turns into a miss and the entry is evicted.
// Errors are github.com/jmgilman/go/errors values and carry a code:
//
//   - ErrEmptyKey, encode failures: CodeInvalidInput
//   - spill write failures: CodeUnavailable (retryable) or CodeForbidden
//   - ErrClosed: CodeUnavailable
//   - invalid configuration: CodeInvalidConfig
//
// # Budgets
//
// The size budget counts the serialized size of every entry, spilled or not.
// A write that pushes the cache over its size or entry limit triggers
// eviction, which continues until the size is at or below 70% of the budget
// and the entry count fits. Optimize runs the same pass on demand and does
// nothing while the size is below 80% of the budget.
//
// # Directory layout
//
// Each spilled value is stored as <name>.val, where name is a sanitized prefix
// of the key plus a short hash of it. A <name>.val.meta JSON sidecar records the
// original key and the SHA-256 digest of the payload. Files without a sidecar
// are adopted under their file name. Writes go through a .temp subdirectory
// and are renamed into place.
//
// # Concurrency
//
// All methods are safe for concurrent use. Operations on different keys never
// interfere. Operations racing on the same key are not serialized: a Get that
// overlaps a Set or Delete of the same key may observe either version or a
// miss. Callers that need per-key serializability must lock around the cache.
//
// One directory must not be shared by two caches.
package tiercache
