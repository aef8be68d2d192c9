package transport

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// streamChunkSize is the buffer size SimulatedAdapter feeds to the sink
// per iteration; it bounds how finely throughput is rate-shaped and how
// promptly cancellation is observed mid-transfer.
const streamChunkSize = 16 * 1024

// PeerProfile describes one simulated peer's behavior, grounded in the
// teacher's benchmark.PeerConfig (latency bounds, throughput, injected
// error/timeout rates) generalized with a mutable throughput so tests can
// reproduce a peer slowing down mid-job (S3).
type PeerProfile struct {
	LatencyMin, LatencyMax time.Duration
	ThroughputBps          int64 // atomically adjustable via SetThroughput
	ErrorRate              float64
	RejectRanged           bool // refuses any startOffset > 0
	Offline                bool
}

// SimulatedAdapter is a deterministic, injectable in-memory Adapter used
// by tests and by `swarmget fetch --simulate`. It never touches the
// network; peers are simulated participants.
type SimulatedAdapter struct {
	mu      sync.RWMutex
	content map[string][]byte // RemotePath -> bytes
	peers   map[peer.ID]*simPeerState
	rng     *rand.Rand
}

type simPeerState struct {
	profile       PeerProfile
	throughputBps int64 // atomic; mirrors profile.ThroughputBps
}

// NewSimulatedAdapter creates an adapter with no registered peers or
// content; use AddContent and AddPeer to populate it.
func NewSimulatedAdapter() *SimulatedAdapter {
	return &SimulatedAdapter{
		content: make(map[string][]byte),
		peers:   make(map[peer.ID]*simPeerState),
		rng:     rand.New(rand.NewSource(1)),
	}
}

// AddContent registers the bytes served for a given remote path.
func (a *SimulatedAdapter) AddContent(remotePath string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content[remotePath] = data
}

// AddPeer registers (or replaces) a peer's simulated behavior.
func (a *SimulatedAdapter) AddPeer(id peer.ID, profile PeerProfile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers[id] = &simPeerState{profile: profile, throughputBps: profile.ThroughputBps}
}

// SetThroughput adjusts a registered peer's throughput mid-test, e.g. to
// simulate a peer dropping from 500 KiB/s to 2 KiB/s partway through a job.
func (a *SimulatedAdapter) SetThroughput(id peer.ID, bps int64) {
	a.mu.RLock()
	st, ok := a.peers[id]
	a.mu.RUnlock()
	if ok {
		atomic.StoreInt64(&st.throughputBps, bps)
	}
}

// SetOffline marks a registered peer online/offline mid-test.
func (a *SimulatedAdapter) SetOffline(id peer.ID, offline bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.peers[id]; ok {
		st.profile.Offline = offline
	}
}

func (a *SimulatedAdapter) state(id peer.ID) *simPeerState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.peers[id]
}

// Download implements Adapter.
func (a *SimulatedAdapter) Download(ctx context.Context, ref SourceRef, startOffset int64, sink Sink) (Report, error) {
	start := time.Now()

	st := a.state(ref.PeerID)
	if st == nil {
		return Report{}, ErrPeerOffline
	}
	if st.profile.Offline {
		return Report{}, ErrPeerOffline
	}
	if st.profile.RejectRanged && startOffset > 0 {
		return Report{}, ErrPeerRejected
	}

	a.mu.RLock()
	data, ok := a.content[ref.RemotePath]
	a.mu.RUnlock()
	if !ok {
		return Report{}, ErrOther
	}
	if startOffset < 0 || startOffset > int64(len(data)) {
		return Report{}, ErrOther
	}
	data = data[startOffset:]

	if err := a.sleep(ctx, a.latency(st.profile)); err != nil {
		return Report{}, ErrCancelled
	}

	if st.profile.ErrorRate > 0 && a.roll() < st.profile.ErrorRate {
		return Report{}, ErrOther
	}

	var ttfb time.Duration
	var written int64
	first := true

	for len(data) > 0 {
		bps := atomic.LoadInt64(&st.throughputBps)
		n := streamChunkSize
		if n > len(data) {
			n = len(data)
		}
		piece := data[:n]

		if bps > 0 {
			transferTime := time.Duration(float64(len(piece)) / float64(bps) * float64(time.Second))
			if err := a.sleep(ctx, transferTime); err != nil {
				return Report{BytesWritten: written, TTFB: ttfb}, ErrCancelled
			}
		}

		if first {
			ttfb = time.Since(start)
			first = false
		}

		n2, done, err := sink.Write(piece)
		written += int64(n2)
		if err != nil {
			return Report{BytesWritten: written, TTFB: ttfb}, ErrOther
		}
		if done {
			return Report{BytesWritten: written, TTFB: ttfb}, nil
		}

		data = data[n:]
	}

	if first {
		ttfb = time.Since(start)
	}
	return Report{BytesWritten: written, TTFB: ttfb}, nil
}

func (a *SimulatedAdapter) latency(p PeerProfile) time.Duration {
	if p.LatencyMax <= p.LatencyMin {
		return p.LatencyMin
	}
	jitter := time.Duration(a.lockedRandInt63n(int64(p.LatencyMax - p.LatencyMin)))
	return p.LatencyMin + jitter
}

func (a *SimulatedAdapter) lockedRandInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Int63n(n)
}

func (a *SimulatedAdapter) roll() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64()
}

func (a *SimulatedAdapter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Adapter = (*SimulatedAdapter)(nil)
