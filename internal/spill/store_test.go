package spill

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *billy.MemoryFS) {
	t.Helper()
	mem := billy.NewMemory()
	store, err := NewStore(mem, "/cache", opts...)
	require.NoError(t, err)
	return store, mem
}

// fileExists reports whether name exists under the test store root.
func fileExists(t *testing.T, mem *billy.MemoryFS, name string) bool {
	t.Helper()
	ok, err := mem.Exists(filepath.Join("/cache", name))
	require.NoError(t, err)
	return ok
}

// faultyFS fails writes and renames whose path contains the configured substrings.
type faultyFS struct {
	core.FS
	failWrite  string
	failRename string
}

func (f *faultyFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if f.failWrite != "" && strings.Contains(name, f.failWrite) {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrPermission}
	}
	return f.FS.WriteFile(name, data, perm)
}

func (f *faultyFS) Rename(oldpath, newpath string) error {
	if f.failRename != "" && strings.HasSuffix(newpath, f.failRename) {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EIO}
	}
	return f.FS.Rename(oldpath, newpath)
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name     string
		fs       *billy.MemoryFS
		root     string
		wantCode errors.ErrorCode
	}{
		{
			name: "valid store",
			fs:   billy.NewMemory(),
			root: "/cache/nested/dir",
		},
		{
			name:     "nil filesystem",
			fs:       nil,
			root:     "/cache",
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name:     "empty root",
			fs:       billy.NewMemory(),
			root:     "",
			wantCode: errors.CodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var store *Store
			var err error
			if tt.fs == nil {
				store, err = NewStore(nil, tt.root)
			} else {
				store, err = NewStore(tt.fs, tt.root)
			}

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.GetCode(err))
				return
			}

			require.NoError(t, err)
			exists, err := tt.fs.Exists(filepath.Join(tt.root, tempDirName))
			require.NoError(t, err)
			assert.True(t, exists, "temp directory should be created")
			assert.NotNil(t, store)
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantPrefix string
	}{
		{name: "plain key", key: "format-result", wantPrefix: "format-result-"},
		{name: "path separators", key: "src/main.go", wantPrefix: "src_main_go-"},
		{name: "traversal", key: "../../etc/passwd", wantPrefix: "______etc_passwd-"},
		{name: "unicode", key: "héllo", wantPrefix: "h_llo-"},
		{name: "empty", key: "", wantPrefix: "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Name(tt.key)
			assert.True(t, strings.HasPrefix(got, tt.wantPrefix), "got %q", got)
			assert.True(t, strings.HasSuffix(got, DataExt))
			assert.NotContains(t, got, "/")
			assert.Equal(t, got, Name(tt.key), "name must be deterministic")
		})
	}

	t.Run("long keys are truncated", func(t *testing.T) {
		got := Name(strings.Repeat("a", 500))
		assert.LessOrEqual(t, len(got), maxPrefixLen+1+hashLen+len(DataExt))
	})

	t.Run("colliding prefixes stay distinct", func(t *testing.T) {
		assert.NotEqual(t, Name("a/b"), Name("a_b"))
		assert.NotEqual(t, Name("a:b"), Name("a?b"))
	})
}

func TestStore_WriteRead(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	data := []byte(`{"formatted":"package main"}`)
	sum := digest.FromBytes(data)

	locator, err := store.Write(ctx, "file:///main.go", data, sum)
	require.NoError(t, err)
	assert.Equal(t, Name("file:///main.go"), locator)
	assert.True(t, fileExists(t, mem, locator))

	manifestExists, err := mem.Exists(filepath.Join("/cache", locator+ManifestExt))
	require.NoError(t, err)
	assert.True(t, manifestExists)

	got, err := store.Read(ctx, locator)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	tempEntries, err := mem.ReadDir(filepath.Join("/cache", tempDirName))
	require.NoError(t, err)
	assert.Empty(t, tempEntries, "scratch files should be renamed away")
}

func TestStore_WriteOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Write(ctx, "k", []byte("one"), digest.FromString("one"))
	require.NoError(t, err)
	second, err := store.Write(ctx, "k", []byte("two"), digest.FromString("two"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := store.Read(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestStore_WriteCancelled(t *testing.T) {
	store, mem := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Write(ctx, "k", []byte("v"), "")
	require.Error(t, err)
	assert.False(t, fileExists(t, mem, Name("k")))
}

func TestStore_FailedWriteKeepsPrevious(t *testing.T) {
	tests := []struct {
		name       string
		failWrite  string
		failRename string
	}{
		{name: "payload write fails", failWrite: DataExt + "."},
		{name: "manifest write fails", failWrite: ManifestExt},
		{name: "manifest rename fails", failRename: ManifestExt},
		{name: "payload rename fails", failRename: DataExt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := billy.NewMemory()
			faulty := &faultyFS{FS: mem}
			store, err := NewStore(faulty, "/cache")
			require.NoError(t, err)

			locator, err := store.Write(ctx, "k", []byte("old-value"), digest.FromString("old-value"))
			require.NoError(t, err)

			faulty.failWrite = tt.failWrite
			faulty.failRename = tt.failRename
			_, err = store.Write(ctx, "k", []byte("new-value"), digest.FromString("new-value"))
			require.Error(t, err)

			got, err := store.Read(ctx, locator)
			require.NoError(t, err)
			assert.Equal(t, []byte("old-value"), got)

			tempEntries, err := mem.ReadDir(filepath.Join("/cache", tempDirName))
			require.NoError(t, err)
			assert.Empty(t, tempEntries, "scratch files should be cleaned up")
		})
	}

	t.Run("fresh key leaves nothing behind", func(t *testing.T) {
		ctx := context.Background()
		mem := billy.NewMemory()
		store, err := NewStore(&faultyFS{FS: mem, failRename: DataExt}, "/cache")
		require.NoError(t, err)

		_, err = store.Write(ctx, "k", []byte("v"), "")
		require.Error(t, err)
		assert.False(t, fileExists(t, mem, Name("k")))
		assert.False(t, fileExists(t, mem, Name("k")+ManifestExt))
	})
}

func TestStore_ManifestUsesClock(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mem := newTestStore(t, WithNow(func() time.Time { return at }))

	locator, err := store.Write(context.Background(), "k", []byte("v"), "")
	require.NoError(t, err)

	raw, err := mem.ReadFile(filepath.Join("/cache", locator+ManifestExt))
	require.NoError(t, err)

	var m manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.True(t, at.Equal(m.WrittenAt))
}

func TestStore_ReadMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Read(context.Background(), "missing.val")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))
	assert.Contains(t, err.Error(), "missing.val")
}

func TestStore_Remove(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	locator, err := store.Write(ctx, "k", []byte("v"), digest.FromString("v"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, locator))
	assert.False(t, fileExists(t, mem, locator))
	manifestExists, err := mem.Exists(filepath.Join("/cache", locator+ManifestExt))
	require.NoError(t, err)
	assert.False(t, manifestExists)

	// Removing again is not an error.
	assert.NoError(t, store.Remove(ctx, locator))
}

func TestStore_Scan(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	data := []byte("payload")
	sum := digest.FromBytes(data)
	locator, err := store.Write(ctx, "src/app.ts", data, sum)
	require.NoError(t, err)

	// A file dropped in by something other than the store.
	require.NoError(t, mem.WriteFile("/cache/external.json", []byte(`"hi"`), 0o644))

	// A data file whose manifest is garbage.
	require.NoError(t, mem.WriteFile("/cache/broken.val", []byte("x"), 0o644))
	require.NoError(t, mem.WriteFile("/cache/broken.val"+ManifestExt, []byte("{not json"), 0o644))

	records, err := store.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byLocator := make(map[string]Record)
	for _, r := range records {
		byLocator[r.Locator] = r
	}

	written := byLocator[locator]
	assert.Equal(t, "src/app.ts", written.Key)
	assert.Equal(t, sum, written.Checksum)
	assert.Equal(t, int64(len(data)), written.Size)
	assert.False(t, written.Adopted)
	assert.NoError(t, written.ManifestErr)

	external := byLocator["external.json"]
	assert.Equal(t, "external.json", external.Key)
	assert.True(t, external.Adopted)
	assert.NoError(t, external.ManifestErr)
	assert.Empty(t, external.Checksum)

	broken := byLocator["broken.val"]
	assert.True(t, broken.Adopted)
	assert.Error(t, broken.ManifestErr)
	assert.Equal(t, "broken.val", broken.Key)
}

func TestStore_Purge(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "a", []byte("1"), "")
	require.NoError(t, err)
	require.NoError(t, mem.WriteFile("/cache/stray.txt", []byte("x"), 0o644))
	require.NoError(t, mem.MkdirAll("/cache/subdir/deeper", 0o755))
	require.NoError(t, mem.WriteFile("/cache/subdir/deeper/f", []byte("x"), 0o644))

	require.NoError(t, store.Purge(ctx))

	entries, err := mem.ReadDir("/cache")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, tempDirName, entries[0].Name())

	records, err := store.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Purging an empty store is fine.
	require.NoError(t, store.Purge(ctx))
}
