package tiercache

import (
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/tiercache/internal/spill"
)

var (
	// ErrCorruptEntry indicates a spilled value could not be loaded back.
	// Get never returns it; the entry is evicted and reported as a miss.
	ErrCorruptEntry = spill.ErrCorrupt

	// ErrClosed is returned by write operations on a closed cache.
	ErrClosed = errors.New(errors.CodeUnavailable, "cache is closed")

	// ErrEmptyKey is returned when a write is attempted with an empty key.
	ErrEmptyKey = errors.New(errors.CodeInvalidInput, "key cannot be empty")
)
