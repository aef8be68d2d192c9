// Package transport defines the boundary between the swarm engine and the
// underlying (unspecified) file-sharing protocol client. The engine never
// speaks the wire protocol directly; it only calls Adapter.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Errors an Adapter may return from Download. A compliant adapter must
// report ErrPeerRejected honestly whenever ranged access is refused, so
// the engine can retire the peer rather than silently restart from zero.
var (
	ErrPeerRejected = errors.New("transport: peer rejected the request")
	ErrPeerOffline  = errors.New("transport: peer unreachable")
	ErrTimeout      = errors.New("transport: no progress within deadline")
	ErrCancelled    = errors.New("transport: cancelled")
	ErrOther        = errors.New("transport: transport-internal error")
)

// SourceRef identifies a single remote object held by a single peer.
type SourceRef struct {
	PeerID     peer.ID
	RemotePath string
}

// Sink accepts bytes from a transfer in order. Write returns done=true
// once it has accepted all the bytes it wants; the Adapter must then stop
// the transfer (cancel it at the wire) rather than deliver more. This
// compensates for hosts that cannot truly honor a byte-length request but
// will happily stream the whole object.
type Sink interface {
	Write(p []byte) (n int, done bool, err error)
}

// Report describes a completed or aborted Download call.
type Report struct {
	BytesWritten int64
	TTFB         time.Duration
}

// Adapter performs a single-peer ranged download into a sink.
type Adapter interface {
	// Download initiates a transfer from the given peer/path starting at
	// startOffset, streaming bytes into sink until the sink signals
	// "done", the peer closes, ctx is cancelled, or a fatal error occurs.
	Download(ctx context.Context, ref SourceRef, startOffset int64, sink Sink) (Report, error)
}

// Func adapts a plain function to the Adapter interface, mirroring the
// teacher's function-field source wrappers (PeerSource.Downloader,
// MirrorSource.Fetcher) without requiring a dedicated type per caller.
type Func func(ctx context.Context, ref SourceRef, startOffset int64, sink Sink) (Report, error)

func (f Func) Download(ctx context.Context, ref SourceRef, startOffset int64, sink Sink) (Report, error) {
	return f(ctx, ref, startOffset, sink)
}
