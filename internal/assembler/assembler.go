// Package assembler commits completed chunks into the final target
// file. Each chunk arrives as its own temporary file; the Assembler
// writes it into a pre-reserved, exact-size target at the chunk's byte
// offset and removes the temp file, following the same
// create-pending-then-rename discipline the teacher's cache package
// uses for whole-package commits, adapted to per-chunk positioned
// writes into one long-lived file instead of one rename per object.
package assembler

import (
	"fmt"
	"os"

	"github.com/snapetech/slskdn-sub000/internal/fsutil"
)

// Assembler owns the target file for one job and accepts completed
// chunks in any order.
type Assembler struct {
	targetPath  string
	pendingPath string
	f           *os.File
	totalSize   int64
	remaining   int64
}

// New pre-reserves a target file of exactly totalSize bytes at a
// sibling "<path>.swarmpending" location, truncated to size so
// positioned writes never need to grow the file mid-flight.
func New(targetPath string, totalSize int64) (*Assembler, error) {
	pendingPath := targetPath + ".swarmpending"

	f, err := fsutil.CreatePending(pendingPath, totalSize)
	if err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}

	return &Assembler{
		targetPath:  targetPath,
		pendingPath: pendingPath,
		f:           f,
		totalSize:   totalSize,
		remaining:   totalSize,
	}, nil
}

// CommitChunk reads the entirety of tempPath and writes it into the
// target at the given offset, then removes tempPath. It does not fsync
// — callers commit many chunks before a single final Close.
func (a *Assembler) CommitChunk(offset int64, tempPath string) error {
	data, err := os.ReadFile(tempPath)
	if err != nil {
		return fmt.Errorf("assembler: read chunk temp file: %w", err)
	}

	n, err := a.f.WriteAt(data, offset)
	if err != nil {
		return fmt.Errorf("assembler: write chunk at offset %d: %w", offset, err)
	}
	if err := os.Remove(tempPath); err != nil {
		return fmt.Errorf("assembler: remove chunk temp file: %w", err)
	}

	a.remaining -= int64(n)
	return nil
}

// Remaining reports how many bytes have not yet been committed.
func (a *Assembler) Remaining() int64 {
	return a.remaining
}

// TargetPath returns the final destination path this Assembler commits
// to on Close.
func (a *Assembler) TargetPath() string {
	return a.targetPath
}

// Close fsyncs the target, renames it into place, and closes the file
// handle. It is only valid to call once every chunk has been
// committed; callers must check Remaining() == 0 first.
func (a *Assembler) Close() error {
	if a.remaining != 0 {
		_ = a.f.Close()
		_ = fsutil.RemoveQuiet(a.pendingPath)
		return fmt.Errorf("assembler: close called with %d bytes still missing", a.remaining)
	}

	if err := fsutil.SyncAndRename(a.f, a.pendingPath, a.targetPath); err != nil {
		return fmt.Errorf("assembler: %w", err)
	}

	return nil
}

// Abort discards all progress: closes and removes the pending target
// file. Callers invoke this on job cancellation or a fatal error.
func (a *Assembler) Abort() error {
	_ = a.f.Close()
	if err := fsutil.RemoveQuiet(a.pendingPath); err != nil {
		return fmt.Errorf("assembler: %w", err)
	}
	return nil
}
