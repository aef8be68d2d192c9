package swarm

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-sub000/internal/chunkplan"
	"github.com/snapetech/slskdn-sub000/internal/fsutil"
	"github.com/snapetech/slskdn-sub000/internal/hashutil"
	"github.com/snapetech/slskdn-sub000/internal/ratelimit"
	"github.com/snapetech/slskdn-sub000/internal/timeouts"
	"github.com/snapetech/slskdn-sub000/internal/transport"
	"github.com/snapetech/slskdn-sub000/internal/workqueue"
)

// Event is anything a Worker reports back to the Scheduler. The
// Scheduler type-switches on these; Worker never touches Scheduler
// state directly, mirroring the teacher's results-channel handoff in
// its chunked downloader, generalized from a collect-then-return batch
// to a live, persistent event stream.
type Event interface {
	isEvent()
}

// ChunkOK reports a chunk written to a temp file, ready for the
// Assembler to commit.
type ChunkOK struct {
	Peer         peer.ID
	ChunkIndex   int
	BytesWritten int64
	Elapsed      time.Duration
	TTFB         time.Duration
	TempPath     string
	Digest       string
}

// ChunkFail reports a failed attempt; the chunk index has already been
// requeued by the Worker before this event is sent.
type ChunkFail struct {
	Peer       peer.ID
	ChunkIndex int
	Err        error
}

// PeerDoesNotSupportRanged reports that a source refused a ranged
// request outright (transport.ErrPeerRejected); the Scheduler retires
// such sources rather than retrying them.
type PeerDoesNotSupportRanged struct {
	Peer peer.ID
}

// WorkerExited reports that a Worker's goroutine has returned, either
// because the queue drained or the context was cancelled.
type WorkerExited struct {
	Peer peer.ID
}

func (ChunkOK) isEvent()                  {}
func (ChunkFail) isEvent()                {}
func (PeerDoesNotSupportRanged) isEvent() {}
func (WorkerExited) isEvent()             {}

// Worker repeatedly pulls chunk indices off a shared Queue and
// downloads each into its own temp file via one source's Adapter,
// reporting the outcome as an Event. One Worker exists per active
// source for the lifetime of the job; the Scheduler starts and retires
// them, it never calls into a Worker's internals.
type Worker struct {
	adapter    transport.Adapter
	ref        transport.SourceRef
	chunks     []chunkplan.Chunk
	queue      *workqueue.Queue
	workDir    string
	timeout    time.Duration
	events     chan<- Event
	limiter    *ratelimit.PeerLimiterManager
	timeoutMgr *timeouts.Manager

	attemptSeq int64 // monotonic per-worker attempt counter, used to tag temp files uniquely without a uuid
}

// NewWorker constructs a Worker bound to one source. limiter may be nil,
// in which case chunk writes are unthrottled. timeoutMgr may be nil, in
// which case every attempt uses the static timeout unconditionally;
// when present it overrides timeout with a size-adjusted, adaptively
// tightened or loosened deadline for OpChunkDownload.
func NewWorker(adapter transport.Adapter, ref transport.SourceRef, chunks []chunkplan.Chunk, queue *workqueue.Queue, workDir string, timeout time.Duration, events chan<- Event, limiter *ratelimit.PeerLimiterManager, timeoutMgr *timeouts.Manager) *Worker {
	return &Worker{
		adapter:    adapter,
		ref:        ref,
		chunks:     chunks,
		queue:      queue,
		workDir:    workDir,
		timeout:    timeout,
		events:     events,
		limiter:    limiter,
		timeoutMgr: timeoutMgr,
	}
}

// Run is the Worker's goroutine body. It returns when the queue is
// drained and closed or ctx is cancelled, always emitting exactly one
// WorkerExited as its last event.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		select {
		case w.events <- WorkerExited{Peer: w.ref.PeerID}:
		case <-ctx.Done():
		}
	}()

	for {
		index, ok := w.queue.PopCtx(ctx)
		if !ok {
			return
		}

		w.attempt(ctx, index)
	}
}

func (w *Worker) attempt(ctx context.Context, index int) {
	chunk := w.chunks[index]

	seq := atomic.AddInt64(&w.attemptSeq, 1)
	tempPath := filepath.Join(w.workDir, fmt.Sprintf("chunk-%d-%s-%d.swarmtmp", index, w.ref.PeerID, seq))
	f, err := fsutil.CreateExclusive(tempPath)
	if err != nil {
		w.queue.PushBack(index)
		w.send(ctx, ChunkFail{Peer: w.ref.PeerID, ChunkIndex: index, Err: fmt.Errorf("swarm: create temp file: %w", err)})
		return
	}

	var dst io.Writer = f
	if w.limiter != nil {
		dst = w.limiter.WriterContext(ctx, w.ref.PeerID, dst)
	}
	hw := hashutil.NewHashingWriter(dst)
	sink := transport.NewBoundedSink(hw, chunk.Length)

	effTimeout := w.timeout
	if w.timeoutMgr != nil {
		effTimeout = w.timeoutMgr.GetForSize(timeouts.OpChunkDownload, chunk.Length)
	}
	chunkCtx, cancel := context.WithTimeout(ctx, effTimeout)
	start := time.Now()
	report, err := w.adapter.Download(chunkCtx, w.ref, chunk.Offset, sink)
	elapsed := time.Since(start)
	hitDeadline := chunkCtx.Err() == context.DeadlineExceeded
	cancel()

	closeErr := f.Close()
	written := sink.Written()

	if err == nil && closeErr == nil && written == chunk.Length {
		w.send(ctx, ChunkOK{
			Peer:         w.ref.PeerID,
			ChunkIndex:   index,
			BytesWritten: written,
			Elapsed:      elapsed,
			TTFB:         report.TTFB,
			TempPath:     tempPath,
			Digest:       hw.Sum(),
		})
		return
	}

	_ = fsutil.RemoveQuiet(tempPath)
	w.queue.PushBack(index)

	if err == transport.ErrPeerRejected {
		w.send(ctx, PeerDoesNotSupportRanged{Peer: w.ref.PeerID})
		return
	}

	if err == nil && closeErr != nil {
		err = closeErr
	} else if err == nil {
		err = fmt.Errorf("swarm: incomplete chunk: got %d, want %d", written, chunk.Length)
	}
	if hitDeadline {
		// The hard per-chunk deadline fired before the adapter returned
		// ChunkOK; tag this distinctly from an ordinary transport
		// failure so the Scheduler's adaptive timeout bookkeeping widens
		// rather than narrows the next attempt's budget.
		err = fmt.Errorf("swarm: %w: %v", transport.ErrTimeout, err)
	}

	w.send(ctx, ChunkFail{Peer: w.ref.PeerID, ChunkIndex: index, Err: err})
}

func (w *Worker) send(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// logFields is a convenience shared by the Scheduler for structured
// logging of worker-originated events.
func logFields(ref transport.SourceRef) []zap.Field {
	return []zap.Field{
		zap.String("peer", ref.PeerID.String()),
		zap.String("path", ref.RemotePath),
	}
}
