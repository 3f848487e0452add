package tiercache

import (
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/tiercache/internal/spill"
	"github.com/stretchr/testify/require"
)

const testDir = "/cache"

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// newTestCache builds a cache on an in-memory filesystem with a fake clock and
// no background maintenance. Extra options are applied last.
func newTestCache[V any](t *testing.T, codec Codec[V], opts ...Option) (*Cache[V], *billy.MemoryFS, *fakeClock) {
	t.Helper()

	mem := billy.NewMemory()
	clock := newFakeClock()

	base := []Option{WithFS(mem), WithClock(clock), WithMaintenanceInterval(0)}
	c, err := New[V](testDir, codec, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, mem, clock
}

// failingWriteFS rejects every file write with err.
type failingWriteFS struct {
	core.FS
	err error
}

func (f failingWriteFS) WriteFile(name string, _ []byte, _ fs.FileMode) error {
	return &fs.PathError{Op: "write", Path: name, Err: f.err}
}

// manifestFailFS fails manifest writes while failing is set.
type manifestFailFS struct {
	core.FS
	failing atomic.Bool
}

func (f *manifestFailFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if f.failing.Load() && strings.Contains(name, spill.ManifestExt) {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrPermission}
	}
	return f.FS.WriteFile(name, data, perm)
}
