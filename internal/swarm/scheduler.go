package swarm

import (
	"context"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-sub000/internal/assembler"
	"github.com/snapetech/slskdn-sub000/internal/chunkplan"
	"github.com/snapetech/slskdn-sub000/internal/config"
	"github.com/snapetech/slskdn-sub000/internal/fsutil"
	"github.com/snapetech/slskdn-sub000/internal/metrics"
	"github.com/snapetech/slskdn-sub000/internal/peerscore"
	"github.com/snapetech/slskdn-sub000/internal/peerstate"
	"github.com/snapetech/slskdn-sub000/internal/ratelimit"
	"github.com/snapetech/slskdn-sub000/internal/telemetry"
	"github.com/snapetech/slskdn-sub000/internal/timeouts"
	"github.com/snapetech/slskdn-sub000/internal/transport"
	"github.com/snapetech/slskdn-sub000/internal/workqueue"
)

// evictionTick bounds how often the Scheduler re-evaluates per-source
// speed thresholds and the stuck/desperation toggle. It is not
// configurable: it only needs to be fine enough that a sampled rolling
// speed reacts promptly, not so fine it thrashes.
const evictionTick = 2 * time.Second

// shutdownDrainTimeout bounds how long Run waits, on a terminal
// failure path, for every still-live worker to report WorkerExited
// after being cancelled. A worker wedged inside a blocking adapter
// call past this window is abandoned rather than hanging the caller
// forever.
const shutdownDrainTimeout = 5 * time.Second

// baseFailureCooldown seeds peerstate.Source.RecordFailure's backoff.
const baseFailureCooldown = 500 * time.Millisecond

// Scheduler drives one download job to completion: it spawns a Worker
// per verified source, consumes their events on a single goroutine (so
// none of its own state needs a lock), commits finished chunks through
// an Assembler, retires slow or rejected sources, and reattempts the
// job in bounded rounds before giving up. It is the generalization of
// the teacher's downloadChunked spawn-and-collect loop into a live,
// long-running state machine with retry rounds and desperation mode,
// neither of which the teacher's one-shot downloader has.
type Scheduler struct {
	cfg      config.SwarmConfig
	adapter  transport.Adapter
	asm      *assembler.Assembler
	registry *peerstate.Registry
	workDir  string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	scorer       *peerscore.Scorer
	limiter      *ratelimit.PeerLimiterManager
	timeoutMgr   *timeouts.Manager
	telemetryPub *telemetry.Publisher

	chunks []chunkplan.Chunk
	queue  *workqueue.Queue

	sources []transport.SourceRef
	retired map[peer.ID]bool

	events chan Event

	cancels   map[peer.ID]context.CancelFunc
	liveCount int

	round                 int
	zeroProgressRounds    int
	completedAtRoundStart int
	lastProgressAt        time.Time
	desperation           bool
	desperationSince      time.Time

	completed int
	telemetry []ChunkTelemetry
}

// NewScheduler builds a Scheduler for one job. sources must already be
// the verified pool (see verifypool.Build); the Scheduler does its own
// retiring from there on.
func NewScheduler(cfg config.SwarmConfig, adapter transport.Adapter, asm *assembler.Assembler, chunks []chunkplan.Chunk, sources []transport.SourceRef, workDir string, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeoutCfg := timeouts.DefaultConfig()
	timeoutCfg.ChunkDownload = cfg.ChunkTimeoutDuration()

	return &Scheduler{
		cfg:        cfg,
		adapter:    adapter,
		asm:        asm,
		registry:   peerstate.NewRegistry(),
		workDir:    workDir,
		logger:     logger,
		metrics:    m,
		chunks:     chunks,
		queue:      workqueue.New(len(chunks)),
		sources:    sources,
		retired:    make(map[peer.ID]bool),
		events:     make(chan Event, len(sources)*2+4),
		cancels:    make(map[peer.ID]context.CancelFunc),
		timeoutMgr: timeouts.NewManager(timeoutCfg),
	}
}

// SetScoring attaches optional cross-job peer reputation and rate
// limiting collaborators. Both may be nil (the default), in which case
// chunk transfers are unscored and unthrottled. Call before Run.
func (s *Scheduler) SetScoring(scorer *peerscore.Scorer, limiter *ratelimit.PeerLimiterManager) {
	s.scorer = scorer
	s.limiter = limiter
}

// SetTelemetryPublisher attaches an optional live per-chunk telemetry
// sink. When nil (the default) chunk completions are only ever
// accumulated into the batch slice Telemetry() returns. Call before
// Run.
func (s *Scheduler) SetTelemetryPublisher(pub *telemetry.Publisher) {
	s.telemetryPub = pub
}

// Run drives the job to completion, returning nil on success or one of
// the package's sentinel errors (ErrStuck, ErrAssemblyIO, ErrCancelled)
// on terminal failure.
func (s *Scheduler) Run(ctx context.Context) error {
	s.lastProgressAt = time.Now()

	if s.activeSourceCount() == 0 {
		return ErrNoSources
	}
	s.completedAtRoundStart = s.completed
	s.spawnSources(ctx, s.sources)

	ticker := time.NewTicker(evictionTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.queue.Close()
			return ErrCancelled

		case ev := <-s.events:
			if err := s.handle(ctx, ev); err != nil {
				s.queue.Close()
				s.shutdownWorkers()
				return err
			}
			if s.completed >= len(s.chunks) {
				s.queue.Close()
				if err := s.asm.Close(); err != nil {
					s.shutdownWorkers()
					return ErrAssemblyIO
				}
				return nil
			}

		case now := <-ticker.C:
			if s.onTick(ctx, now) {
				s.queue.Close()
				s.logger.Warn("swarm: stuck in desperation mode past the grace period, giving up", zap.Int("completed", s.completed), zap.Int("total", len(s.chunks)))
				if s.metrics != nil {
					s.metrics.StuckJobs.Inc()
				}
				s.shutdownWorkers()
				return ErrStuck
			}
		}
	}
}

func (s *Scheduler) activeSourceCount() int {
	n := 0
	for _, ref := range s.sources {
		if !s.retired[ref.PeerID] {
			n++
		}
	}
	return n
}

// spawnSources starts a Worker goroutine for every source in candidates
// that isn't retired, still timed out, or already running: one worker
// per VerifiedSource, unconditionally, exactly as spec.md requires at
// job start. There is no admission cap; a verified pool of N sources
// gets N live workers from the moment it is spawned.
func (s *Scheduler) spawnSources(ctx context.Context, candidates []transport.SourceRef) {
	now := time.Now()

	for _, ref := range candidates {
		if s.retired[ref.PeerID] {
			continue
		}
		if s.registry.Get(ref.PeerID).TimedOut(now) {
			continue
		}
		if _, running := s.cancels[ref.PeerID]; running {
			continue
		}
		s.startWorker(ctx, ref)
	}
}

// spawnProvenRound restricts a retry round's worker set to sources that
// have delivered at least one chunk this job (the "proven" set), and
// lifts any temporary timeout they're still serving — a retry round is
// exactly the recovery point a timed-out-but-proven peer earns back.
func (s *Scheduler) spawnProvenRound(ctx context.Context) {
	var proven []transport.SourceRef
	for _, ref := range s.sources {
		src := s.registry.Get(ref.PeerID)
		if src.SuccessfulChunks() == 0 {
			continue
		}
		src.ClearTimeout()
		proven = append(proven, ref)
	}
	s.spawnSources(ctx, proven)
}

func (s *Scheduler) startWorker(ctx context.Context, ref transport.SourceRef) {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancels[ref.PeerID] = cancel
	s.liveCount++

	w := NewWorker(s.adapter, ref, s.chunks, s.queue, s.workDir, s.cfg.ChunkTimeoutDuration(), s.events, s.limiter, s.timeoutMgr)
	s.logger.Debug("swarm: starting worker", logFields(ref)...)
	go w.Run(workerCtx)
}

func (s *Scheduler) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case ChunkOK:
		return s.handleChunkOK(e)
	case ChunkFail:
		s.handleChunkFail(ctx, e)
	case PeerDoesNotSupportRanged:
		s.retire(e.Peer, "rejected ranged request")
	case WorkerExited:
		return s.handleWorkerExited(ctx, e)
	}
	return nil
}

func (s *Scheduler) handleChunkOK(e ChunkOK) error {
	src := s.registry.Get(e.Peer)
	src.RecordSuccess(e.BytesWritten, e.Elapsed)
	s.timeoutMgr.RecordSuccess(timeouts.OpChunkDownload, e.Elapsed)

	if err := s.asm.CommitChunk(s.chunks[e.ChunkIndex].Offset, e.TempPath); err != nil {
		s.logger.Error("swarm: commit chunk failed", zap.Int("chunk", e.ChunkIndex), zap.Error(err))
		return ErrAssemblyIO
	}

	s.completed++
	s.lastProgressAt = time.Now()
	s.zeroProgressRounds = 0
	s.telemetry = append(s.telemetry, ChunkTelemetry{
		Peer:         e.Peer,
		ChunkIndex:   e.ChunkIndex,
		BytesWritten: e.BytesWritten,
		TTFB:         e.TTFB,
		TransferTime: e.Elapsed,
	})
	if s.telemetryPub != nil {
		s.telemetryPub.Publish(telemetry.Event{
			Peer:         e.Peer,
			ChunkIndex:   e.ChunkIndex,
			BytesWritten: e.BytesWritten,
			TTFB:         e.TTFB,
			TransferTime: e.Elapsed,
		})
	}
	if s.metrics != nil {
		s.metrics.ChunksCompleted.Inc()
		s.metrics.BytesDownloaded.WithLabel(e.Peer.String()).Add(e.BytesWritten)
	}
	if s.scorer != nil {
		var throughput float64
		if secs := e.Elapsed.Seconds(); secs > 0 {
			throughput = float64(e.BytesWritten) / secs
		}
		s.scorer.RecordSuccess(e.Peer, e.BytesWritten, float64(e.Elapsed.Milliseconds()), throughput)
	}
	return nil
}

func (s *Scheduler) handleChunkFail(ctx context.Context, e ChunkFail) {
	src := s.registry.Get(e.Peer)
	src.RecordFailure(time.Now(), baseFailureCooldown)

	if errors.Is(e.Err, transport.ErrTimeout) {
		s.timeoutMgr.RecordTimeout(timeouts.OpChunkDownload)
	} else {
		s.timeoutMgr.RecordFailure(timeouts.OpChunkDownload)
	}

	s.logger.Debug("swarm: chunk attempt failed", zap.Int("chunk", e.ChunkIndex), zap.String("peer", e.Peer.String()), zap.Error(e.Err))
	if s.metrics != nil {
		s.metrics.ChunksFailed.WithLabel("other").Inc()
	}
	if s.scorer != nil {
		s.scorer.RecordFailure(e.Peer, e.Err.Error())
	}

	if src.ConsecutiveFailures() < s.cfg.MaxFailures() {
		return
	}
	// Last-worker protection: never retire the only source still able
	// to make progress, however bad its streak, or the job can never
	// finish this round.
	if s.activeWorkerCount() <= 1 {
		return
	}
	s.retire(e.Peer, "exceeded consecutive failure limit")
}

func (s *Scheduler) handleWorkerExited(ctx context.Context, e WorkerExited) error {
	if cancel, ok := s.cancels[e.Peer]; ok {
		cancel()
		delete(s.cancels, e.Peer)
	}
	s.liveCount--
	if s.metrics != nil {
		s.metrics.ActiveWorkers.Set(float64(s.liveCount))
	}

	if s.completed >= len(s.chunks) {
		return nil
	}

	if s.liveCount > 0 {
		return nil
	}

	// Every worker has exited and the job isn't done: either every
	// source is retired/cooling down, or the queue drained into workers
	// that all then hit the end of their lifetime simultaneously. Either
	// way this is the end of a round.
	return s.endRound(ctx)
}

// endRound applies the bound-whichever-fires-first rule between
// MaxRetryRounds and MaxZeroProgressRounds. Short of that bound it
// respawns the proven set for another round; at the bound it spends the
// job's one desperation recovery (reviving every source, retired or
// timed out) before finally giving up.
func (s *Scheduler) endRound(ctx context.Context) error {
	if s.completed > s.completedAtRoundStart {
		s.zeroProgressRounds = 0
	} else {
		s.zeroProgressRounds++
	}
	s.round++

	if s.metrics != nil {
		s.metrics.RetryRoundsEntered.Inc()
	}

	if s.round >= s.cfg.RetryRounds() || s.zeroProgressRounds >= s.cfg.ZeroProgressRounds() {
		if s.desperation {
			s.logger.Warn("swarm: stuck even after desperation round", zap.Int("round", s.round))
			if s.metrics != nil {
				s.metrics.StuckJobs.Inc()
			}
			return ErrStuck
		}

		s.enterDesperation(ctx, time.Now())
		if s.liveCount == 0 {
			s.logger.Warn("swarm: desperation round revived no sources, giving up")
			if s.metrics != nil {
				s.metrics.StuckJobs.Inc()
			}
			return ErrStuck
		}
		return nil
	}

	s.logger.Info("swarm: entering retry round", zap.Int("round", s.round))
	s.completedAtRoundStart = s.completed
	s.spawnProvenRound(ctx)

	if s.liveCount == 0 {
		// No proven source survived this round (e.g. every source was
		// retired or is still cooling down); nothing to wait on, so
		// advance the round/bound counters immediately instead of
		// hanging until the next tick.
		return s.endRound(ctx)
	}
	return nil
}

func (s *Scheduler) activeWorkerCount() int {
	return s.liveCount
}

// Telemetry returns the per-chunk transfer records accumulated over the
// job so far, in completion order.
func (s *Scheduler) Telemetry() []ChunkTelemetry {
	return s.telemetry
}

// shutdownWorkers cancels every still-live worker and drains s.events
// until each has reported WorkerExited, bounded by
// shutdownDrainTimeout. Called from Run's error/stuck terminal paths
// only — ctx.Done() already cancels every worker transitively since
// workerCtx is a child of ctx, and the success path needs no draining
// because no worker can be mid-flight on a chunk once every chunk is
// completed. A ChunkOK that lands mid-drain (a worker already past its
// adapter call when cancel() fires) is still committed so its temp
// file is claimed by the Assembler instead of orphaned; if the commit
// itself fails the temp file is removed directly. This generalizes
// what retire() does for one peer at a time to every remaining source
// at once.
func (s *Scheduler) shutdownWorkers() {
	for _, cancel := range s.cancels {
		cancel()
	}

	deadline := time.NewTimer(shutdownDrainTimeout)
	defer deadline.Stop()

	for s.liveCount > 0 {
		select {
		case ev := <-s.events:
			switch e := ev.(type) {
			case WorkerExited:
				delete(s.cancels, e.Peer)
				s.liveCount--
			case ChunkOK:
				if err := s.asm.CommitChunk(s.chunks[e.ChunkIndex].Offset, e.TempPath); err != nil {
					s.logger.Warn("swarm: shutdown commit failed, removing orphaned temp file",
						zap.String("temp", e.TempPath), zap.Error(err))
					_ = fsutil.RemoveQuiet(e.TempPath)
				}
			}

		case <-deadline.C:
			s.logger.Warn("swarm: shutdown grace period elapsed with workers still live", zap.Int("live", s.liveCount))
			return
		}
	}
}

func (s *Scheduler) retire(id peer.ID, reason string) {
	if s.retired[id] {
		return
	}
	s.retired[id] = true
	s.logger.Info("swarm: retiring source", zap.String("peer", id.String()), zap.String("reason", reason))
	if s.metrics != nil {
		s.metrics.PeersRetired.Inc()
	}
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
}

// enterDesperation clears every retirement and timeout and rebuilds the
// worker set from the full original source list, including peers
// retired or timed out earlier in the job. A job spends this recovery
// exactly once, from whichever trigger reaches it first: the round
// bounds in endRound, or a sustained stuck-after window with no
// progress at all in onTick.
func (s *Scheduler) enterDesperation(ctx context.Context, now time.Time) {
	if s.desperation {
		return
	}
	s.desperation = true
	s.desperationSince = now
	s.retired = make(map[peer.ID]bool)
	for _, src := range s.registry.All() {
		src.ClearTimeout()
		src.NoteAboveThreshold()
	}
	s.logger.Warn("swarm: entering desperation mode, reviving all sources")
	s.completedAtRoundStart = s.completed
	s.spawnSources(ctx, s.sources)
}

// onTick runs the periodic speed-threshold eviction before desperation
// mode, and otherwise watches for a further stuck-after window to
// elapse with no progress after desperation was entered. It returns
// true once that grace period expires — the only path by which a
// worker that never voluntarily exits (the last-worker-protected case)
// still reaches a terminal decision, since endRound is never invoked
// for it.
func (s *Scheduler) onTick(ctx context.Context, now time.Time) bool {
	if s.desperation {
		return now.Sub(s.desperationSince) >= s.cfg.StuckAfterDuration()
	}

	if now.Sub(s.lastProgressAt) >= s.cfg.StuckAfterDuration() {
		s.enterDesperation(ctx, now)
		return false
	}

	s.evictSlowSources(now)
	return false
}

// evictSlowSources cancels and temporarily times out any source whose
// rolling speed has stayed under the dynamic floor for at least
// SlowDuration. This is a pause, not a retirement: the source keeps its
// proven status and is eligible again once its timeout lapses or a
// retry round clears it early.
func (s *Scheduler) evictSlowSources(now time.Time) {
	best := s.registry.BestSpeed()
	if best <= 0 {
		return
	}
	threshold := best * s.cfg.SpeedFloorPct()
	if floor := float64(s.cfg.SpeedFloorBytes()); floor > threshold {
		threshold = floor
	}

	for _, src := range s.registry.All() {
		if s.retired[src.Peer] {
			continue
		}
		if src.TimedOut(now) {
			continue
		}
		if src.SuccessfulChunks() == 0 {
			continue // hasn't had a chance to prove a speed yet
		}
		if src.RollingSpeed() >= threshold {
			src.NoteAboveThreshold()
			continue
		}
		if s.registry.ActiveCount(now, s.retired) <= 1 {
			continue // last-worker protection
		}
		if src.NoteBelowThreshold(now) < s.cfg.SlowDurationDuration() {
			continue
		}
		src.NoteAboveThreshold()
		s.timeoutSlow(src.Peer, now)
	}
}

// timeoutSlow cancels a slow source's in-flight chunk (the Worker
// requeues it before exiting) and puts the peer on a temporary cooldown
// rather than retiring it permanently.
func (s *Scheduler) timeoutSlow(id peer.ID, now time.Time) {
	s.logger.Info("swarm: timing out slow source", zap.String("peer", id.String()))
	if s.metrics != nil {
		s.metrics.PeersTimedOut.Inc()
	}
	s.registry.Get(id).SetTimeout(now, s.cfg.SlowTimeoutDuration())
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
}
