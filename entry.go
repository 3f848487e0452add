package tiercache

import (
	"time"

	"github.com/jmgilman/go/tiercache/internal/eviction"
	"github.com/opencontainers/go-digest"
)

// entryState says where an entry's value lives. It is one of resident[V],
// spilled, or loaded[V]; code that needs the value switches on the concrete type.
type entryState interface {
	// locator returns the data file backing the entry, or "" when memory-only.
	locator() string
}

// resident holds a value that was never written to disk.
type resident[V any] struct {
	value V
}

func (resident[V]) locator() string { return "" }

// spilled marks a value that is only on disk.
type spilled struct {
	file string
}

func (s spilled) locator() string { return s.file }

// loaded holds a disk-backed value that has been read back into memory.
type loaded[V any] struct {
	value V
	file  string
}

func (s loaded[V]) locator() string { return s.file }

// entry is one cached key. All fields are guarded by Cache.mu.
type entry[V any] struct {
	key         string
	state       entryState
	size        int64
	checksum    digest.Digest
	createdAt   time.Time
	expiresAt   time.Time
	accessCount int64
	lastAccess  time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// inMemory reports whether the value is held in memory.
func (e *entry[V]) inMemory() bool {
	_, onlyOnDisk := e.state.(spilled)
	return !onlyOnDisk
}

func (e *entry[V]) candidate() eviction.Candidate {
	return eviction.Candidate{
		Key:         e.key,
		Size:        e.size,
		AccessCount: e.accessCount,
		LastAccess:  e.lastAccess,
	}
}
