// Package peerstate tracks per-job, per-source performance within a
// single swarm download. It is the Scheduler's private bookkeeping: the
// Scheduler is the sole reader and writer of a Registry, so none of its
// methods take a lock.
package peerstate

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// rollingWindow bounds how many recent chunk speeds feed the rolling
// bytes/sec average, mirroring peerscore's EWMA-over-recent-samples
// idiom but windowed instead of exponentially decayed, per spec.md's
// "last 3 chunk speeds" wording.
const rollingWindow = 3

// Source holds one peer's observed behavior within the current job.
type Source struct {
	Peer peer.ID

	speeds      []float64 // bytes/sec, most recent last, capped at rollingWindow
	consecutiveFailures int
	timeoutUntil        time.Time
	successfulChunks    int
	totalBytes          int64

	belowThresholdSince time.Time // zero when not currently under the dynamic speed floor
}

// RollingSpeed returns the average of the last rollingWindow chunk
// speeds in bytes/sec, or 0 if no chunk has completed yet.
func (s *Source) RollingSpeed() float64 {
	if len(s.speeds) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.speeds {
		sum += v
	}
	return sum / float64(len(s.speeds))
}

// ConsecutiveFailures returns the current failure streak, reset on any
// successful chunk.
func (s *Source) ConsecutiveFailures() int {
	return s.consecutiveFailures
}

// TimedOut reports whether this source is still serving a cooldown
// imposed after a failure.
func (s *Source) TimedOut(now time.Time) bool {
	return now.Before(s.timeoutUntil)
}

// SuccessfulChunks returns the count of chunks this source has
// delivered in this job.
func (s *Source) SuccessfulChunks() int {
	return s.successfulChunks
}

// SetTimeout imposes a cooldown until now+d directly, independent of the
// failure-streak backoff RecordFailure computes. Used for the dynamic
// speed-threshold eviction, which pauses a source without touching its
// failure streak or rolling speed history.
func (s *Source) SetTimeout(now time.Time, d time.Duration) {
	s.timeoutUntil = now.Add(d)
}

// ClearTimeout lifts any cooldown immediately, used when a retry round
// gives a proven source another chance or desperation mode revives the
// whole pool.
func (s *Source) ClearTimeout() {
	s.timeoutUntil = time.Time{}
}

// NoteBelowThreshold records that this source's rolling speed is under
// the dynamic floor at now, returning how long it has been continuously
// under it. Call NoteAboveThreshold as soon as it recovers.
func (s *Source) NoteBelowThreshold(now time.Time) time.Duration {
	if s.belowThresholdSince.IsZero() {
		s.belowThresholdSince = now
	}
	return now.Sub(s.belowThresholdSince)
}

// NoteAboveThreshold clears the below-threshold dwell timer.
func (s *Source) NoteAboveThreshold() {
	s.belowThresholdSince = time.Time{}
}

// Registry is the per-job table of Source state, keyed by peer.
type Registry struct {
	sources map[peer.ID]*Source
}

// NewRegistry creates an empty per-job registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[peer.ID]*Source)}
}

// Get returns (creating if absent) the Source for a peer.
func (r *Registry) Get(id peer.ID) *Source {
	s, ok := r.sources[id]
	if !ok {
		s = &Source{Peer: id}
		r.sources[id] = s
	}
	return s
}

// All returns every tracked source, for threshold computation across
// the whole pool.
func (r *Registry) All() []*Source {
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// RecordSuccess records a completed chunk transfer: updates the
// rolling speed window, resets the failure streak, and clears any
// timeout.
func (s *Source) RecordSuccess(bytesWritten int64, elapsed time.Duration) {
	s.consecutiveFailures = 0
	s.timeoutUntil = time.Time{}
	s.successfulChunks++
	s.totalBytes += bytesWritten

	if elapsed <= 0 {
		return
	}
	bps := float64(bytesWritten) / elapsed.Seconds()
	s.speeds = append(s.speeds, bps)
	if len(s.speeds) > rollingWindow {
		s.speeds = s.speeds[len(s.speeds)-rollingWindow:]
	}
}

// RecordFailure records a failed chunk attempt and imposes a cooldown
// before the source is eligible for redispatch, backing off on
// repeated failures up to a cap.
func (s *Source) RecordFailure(now time.Time, baseCooldown time.Duration) {
	s.consecutiveFailures++
	backoff := baseCooldown * time.Duration(s.consecutiveFailures)
	const maxBackoff = 30 * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	s.timeoutUntil = now.Add(backoff)
}

// BestSpeed returns the highest rolling speed among sources that have
// completed at least one chunk, or 0 if none have.
func (r *Registry) BestSpeed() float64 {
	var best float64
	for _, s := range r.sources {
		if v := s.RollingSpeed(); v > best {
			best = v
		}
	}
	return best
}

// ActiveCount returns how many sources are neither in cooldown nor
// permanently retired, used by the Scheduler's last-worker protection.
func (r *Registry) ActiveCount(now time.Time, retired map[peer.ID]bool) int {
	n := 0
	for id, s := range r.sources {
		if retired[id] {
			continue
		}
		if s.TimedOut(now) {
			continue
		}
		n++
	}
	return n
}
