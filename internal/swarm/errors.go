package swarm

import "errors"

// Fatal errors a Download call can return. Per-chunk and per-source
// failures never reach the caller directly — they are absorbed by the
// Scheduler's retry and desperation logic and only surface as one of
// these terminal conditions.
var (
	// ErrNoSources is returned when a Request carries zero candidate
	// sources before verification even starts.
	ErrNoSources = errors.New("swarm: no candidate sources")

	// ErrStuck is returned when no chunk has completed for longer than
	// the configured stuck-after duration while already in desperation
	// mode, i.e. every avenue has been exhausted.
	ErrStuck = errors.New("swarm: download stuck, no progress from any source")

	// ErrAssemblyIO is returned when the Assembler fails to commit or
	// finalize the target file.
	ErrAssemblyIO = errors.New("swarm: assembly I/O failure")

	// ErrCancelled is returned when the caller's context is cancelled
	// before the job completes.
	ErrCancelled = errors.New("swarm: download cancelled")
)
