// Package fsutil collects the small filesystem idioms the Worker and
// Assembler both need: pre-creating a directory before a write lands in
// it, fsync-before-rename so a crash never leaves a half-written file
// at its final path, and exclusive temp-file creation so two workers
// racing on the same chunk index can never silently clobber each
// other's output. These follow the same create-pending-then-rename
// discipline the teacher's cache package uses for whole-package
// commits (cache.Put, cache.PutFile), lifted out so both swarm.Worker
// and assembler.Assembler share one implementation instead of two
// copies of the same os.MkdirAll/os.Rename/f.Sync sequence.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and any missing parents) if it does not
// already exist. Mirrors the permission bits the teacher's cache
// package uses for its own directory tree.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("fsutil: create dir %s: %w", dir, err)
	}
	return nil
}

// CreateExclusive creates path for writing, failing if it already
// exists. Workers use this for chunk temp files: the name already
// encodes peer and attempt sequence, so a collision means a bug
// upstream, not a condition to paper over by truncating.
func CreateExclusive(path string) (*os.File, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("fsutil: create %s: %w", path, err)
	}
	return f, nil
}

// CreatePending truncates (or creates) path to size, for callers that
// pre-reserve a fixed-size file ahead of positioned writes — the
// Assembler's target file.
func CreatePending(path string, size int64) (*os.File, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("fsutil: create pending %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("fsutil: reserve size for %s: %w", path, err)
	}
	return f, nil
}

// SyncAndRename fsyncs f, closes it, and renames pendingPath to
// finalPath. On any failure it removes pendingPath before returning,
// so callers never leave an orphaned partial file behind.
func SyncAndRename(f *os.File, pendingPath, finalPath string) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(pendingPath)
		return fmt.Errorf("fsutil: fsync %s: %w", pendingPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(pendingPath)
		return fmt.Errorf("fsutil: close %s: %w", pendingPath, err)
	}
	if err := os.Rename(pendingPath, finalPath); err != nil {
		_ = os.Remove(pendingPath)
		return fmt.Errorf("fsutil: rename %s to %s: %w", pendingPath, finalPath, err)
	}
	return nil
}

// RemoveQuiet removes path, treating a missing file as success. Used
// on cleanup paths where the file may or may not have been created
// before the failure that triggered the cleanup.
func RemoveQuiet(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsutil: remove %s: %w", path, err)
	}
	return nil
}
