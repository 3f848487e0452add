// Package spill persists oversized cache values as individual files.
//
// Each spilled value lives in its own data file under a private root directory.
// Next to every data file the store writes a small JSON manifest that records the
// original cache key and the checksum of the payload, so the cache can rebuild its
// entry table on startup without trying to reverse the file name.
//
// Writes are atomic: payloads are written to a scratch file inside the root's
// .temp directory and then renamed into place, so readers never observe a partial
// file. The store is built on core.FS, which lets tests run against an in-memory
// filesystem.
package spill

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
)

const (
	// DataExt is the extension used for data files written by the store.
	DataExt = ".val"
	// ManifestExt is appended to a data file name to form its manifest name.
	ManifestExt = ".meta"

	tempDirName  = ".temp"
	maxPrefixLen = 48
	hashLen      = 16
)

// ErrCorrupt is returned by Read when a spilled value is missing or unreadable.
var ErrCorrupt = errors.New(errors.CodeInternal, "spilled value is missing or corrupted")

// Record describes one data file found by Scan.
type Record struct {
	// Locator is the data file name relative to the store root.
	Locator string
	// Key is the cache key the file belongs to.
	Key string
	// Size is the data file size in bytes.
	Size int64
	// ModTime is the data file modification time.
	ModTime time.Time
	// Checksum is the payload digest recorded at write time. Empty when adopted.
	Checksum digest.Digest
	// Adopted is true when the file has no usable manifest and Key is the file name.
	Adopted bool
	// ManifestErr holds the reason a manifest was present but unusable.
	ManifestErr error
}

// manifest is the sidecar written next to every data file.
type manifest struct {
	Key       string        `json:"key"`
	Checksum  digest.Digest `json:"checksum"`
	Size      int64         `json:"size"`
	WrittenAt time.Time     `json:"written_at"`
}

// Store provides atomic file operations for spilled values.
type Store struct {
	fs      core.FS
	root    string
	tempDir string
	now     func() time.Time
	seq     atomic.Uint64

	// dirLock keeps Purge from running while individual files are being written.
	dirLock sync.RWMutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNow sets the time source used for manifest timestamps.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store rooted at root, creating the directory if necessary.
func NewStore(fsys core.FS, root string, opts ...StoreOption) (*Store, error) {
	if fsys == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "filesystem cannot be nil")
	}
	if root == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "root path cannot be empty")
	}

	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, classify(err), "failed to create cache directory %q", root)
	}

	tempDir := filepath.Join(root, tempDirName)
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, classify(err), "failed to create temp directory %q", tempDir)
	}

	s := &Store{
		fs:      fsys,
		root:    root,
		tempDir: tempDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Corrupt reports that the spilled value at locator cannot be used.
// The result matches ErrCorrupt with errors.Is.
func Corrupt(locator string, cause error) error {
	return errors.WrapWithContext(ErrCorrupt, errors.CodeInternal,
		fmt.Sprintf("unusable spilled value %q: %v", locator, cause),
		map[string]interface{}{"locator": locator})
}

// Name returns the data file name used for key.
//
// The name keeps a readable, sanitized prefix of the key and appends a short
// SHA-256 of the full key, so distinct keys never share a file even when their
// sanitized prefixes collide.
func Name(key string) string {
	var b strings.Builder
	for _, r := range key {
		if b.Len() >= maxPrefixLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String() + "-" + digest.FromString(key).Encoded()[:hashLen] + DataExt
}

// Write stores data for key and returns the locator of the data file.
//
// The payload and its manifest are both staged in the scratch directory before
// either is renamed into place, so a failed write leaves any file previously
// stored for key untouched.
func (s *Store) Write(ctx context.Context, key string, data []byte, sum digest.Digest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CodeTimeout, "spill write cancelled")
	}

	m, err := json.Marshal(manifest{
		Key:       key,
		Checksum:  sum,
		Size:      int64(len(data)),
		WrittenAt: s.now().UTC(),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode manifest")
	}

	s.dirLock.RLock()
	defer s.dirLock.RUnlock()

	locator := Name(key)

	dataTmp, err := s.stage(locator, data)
	if err != nil {
		return "", err
	}
	metaTmp, err := s.stage(locator+ManifestExt, m)
	if err != nil {
		_ = s.fs.Remove(dataTmp)
		return "", err
	}

	// The payload is renamed last so that a failure at any step leaves the
	// previous payload readable. A manifest without its payload only affects
	// verified loads after a restart.
	if err := s.fs.Rename(metaTmp, s.path(locator+ManifestExt)); err != nil {
		_ = s.fs.Remove(dataTmp)
		_ = s.fs.Remove(metaTmp)
		return "", errors.Wrapf(err, classify(err), "failed to rename %q into place", locator+ManifestExt)
	}
	if err := s.fs.Rename(dataTmp, s.path(locator)); err != nil {
		_ = s.fs.Remove(dataTmp)
		if live, _ := s.fs.Exists(s.path(locator)); !live {
			_ = s.fs.Remove(s.path(locator + ManifestExt))
		}
		return "", errors.Wrapf(err, classify(err), "failed to rename %q into place", locator)
	}

	return locator, nil
}

// Read returns the payload stored at locator.
// Any failure to read the file is reported as ErrCorrupt; a cancelled context
// is reported as a timeout instead.
func (s *Store) Read(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeTimeout, "spill read cancelled")
	}

	data, err := s.fs.ReadFile(s.path(locator))
	if err != nil {
		return nil, Corrupt(locator, err)
	}

	return data, nil
}

// Remove deletes the data file at locator and its manifest.
// Files that are already gone are not an error.
func (s *Store) Remove(_ context.Context, locator string) error {
	var firstErr error
	for _, name := range []string{locator, locator + ManifestExt} {
		if err := s.fs.Remove(s.path(name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, classify(err), "failed to remove %q", name)
		}
	}
	return firstErr
}

// Scan lists every data file in the root directory, sorted by locator.
func (s *Store) Scan(ctx context.Context) ([]Record, error) {
	s.dirLock.RLock()
	defer s.dirLock.RUnlock()

	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, classify(err), "failed to read cache directory %q", s.root)
	}

	var records []Record
	for i, entry := range entries {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.CodeTimeout, "scan cancelled")
			}
		}

		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ManifestExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		records = append(records, s.record(name, info))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Locator < records[j].Locator
	})

	return records, nil
}

// Purge removes everything under the root directory, including files the store
// did not write, and recreates the scratch directory.
func (s *Store) Purge(_ context.Context) error {
	s.dirLock.Lock()
	defer s.dirLock.Unlock()

	entries, err := s.fs.ReadDir(s.root)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, classify(err), "failed to read cache directory %q", s.root)
	}

	var firstErr error
	for _, entry := range entries {
		if err := s.fs.RemoveAll(s.path(entry.Name())); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, classify(err), "failed to remove %q", entry.Name())
		}
	}

	if err := s.fs.MkdirAll(s.tempDir, 0o755); err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, classify(err), "failed to recreate temp directory %q", s.tempDir)
	}

	return firstErr
}

// record builds the Record for a data file, reading its manifest when present.
func (s *Store) record(name string, info fs.FileInfo) Record {
	rec := Record{
		Locator: name,
		Key:     name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Adopted: true,
	}

	raw, err := s.fs.ReadFile(s.path(name + ManifestExt))
	if err != nil {
		if !os.IsNotExist(err) {
			rec.ManifestErr = err
		}
		return rec
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		rec.ManifestErr = err
		return rec
	}
	if m.Key == "" {
		rec.ManifestErr = errors.New(errors.CodeInvalidInput, "manifest has no key")
		return rec
	}
	if m.Checksum != "" {
		if err := m.Checksum.Validate(); err != nil {
			rec.ManifestErr = err
			return rec
		}
	}

	rec.Key = m.Key
	rec.Checksum = m.Checksum
	rec.Adopted = false
	return rec
}

// stage writes data to a fresh scratch file for name and returns its path.
func (s *Store) stage(name string, data []byte) (string, error) {
	tmp := filepath.Join(s.tempDir, fmt.Sprintf("%s.%d.tmp", name, s.seq.Add(1)))

	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return "", errors.Wrapf(err, classify(err), "failed to write %q", name)
	}
	return tmp, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

// classify maps filesystem errors to platform error codes.
// Permission problems are permanent; everything else is treated as transient I/O.
func classify(err error) errors.ErrorCode {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return errors.CodeForbidden
	case errors.Is(err, fs.ErrNotExist):
		return errors.CodeNotFound
	default:
		return errors.CodeUnavailable
	}
}
