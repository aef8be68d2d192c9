package swarm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-sub000/internal/assembler"
	"github.com/snapetech/slskdn-sub000/internal/chunkplan"
	"github.com/snapetech/slskdn-sub000/internal/config"
	"github.com/snapetech/slskdn-sub000/internal/metrics"
	"github.com/snapetech/slskdn-sub000/internal/oracle"
	"github.com/snapetech/slskdn-sub000/internal/peerscore"
	"github.com/snapetech/slskdn-sub000/internal/ratelimit"
	"github.com/snapetech/slskdn-sub000/internal/telemetry"
	"github.com/snapetech/slskdn-sub000/internal/transport"
	"github.com/snapetech/slskdn-sub000/internal/verifypool"
)

// Request describes one download job. Zero-valued duration/count fields
// fall back to the Engine's configured defaults.
type Request struct {
	TargetFilename string
	TargetPath     string
	TotalSize      int64
	ChunkSize      int64

	Sources []transport.SourceRef

	SkipVerification        bool
	VerificationPrefixBytes int64

	PerChunkTimeout        time.Duration
	MaxConsecutiveFailures int
	MaxRetryRounds         int
	MaxZeroProgressRounds  int

	// SlowDuration overrides how long a source's rolling speed must stay
	// under the dynamic floor before it is temporarily evicted.
	SlowDuration time.Duration
	// SlowTimeout overrides the cooldown imposed on a slow-evicted source.
	SlowTimeout time.Duration
	// MinSourceFloorBPS overrides the absolute speed floor, in bytes/sec,
	// below the fractional best-observed-speed threshold.
	MinSourceFloorBPS int64

	// WantChunkTelemetry requests that Result.ChunkTelemetry be populated.
	// Left false by default since most callers only care about the
	// aggregate ChunksPerSource tally.
	WantChunkTelemetry bool
}

// ChunkTelemetry records one completed chunk transfer: which source
// served it, how long it took to start responding, and how long the
// whole transfer ran.
type ChunkTelemetry struct {
	Peer         peer.ID
	ChunkIndex   int
	BytesWritten int64
	TTFB         time.Duration
	TransferTime time.Duration
}

// Result reports a job's outcome. ChunksPerSource is only meaningful on
// success; it is omitted rather than estimated on failure.
type Result struct {
	Success         bool
	OutputPath      string
	Elapsed         time.Duration
	TotalBytes      int64
	ChunksPerSource map[transport.SourceRef]int
	ChunkTelemetry  []ChunkTelemetry
	Err             error
}

// Engine is the single entry point callers use to run a swarm download.
// It wires the verification pool, the Scheduler, the Assembler, and an
// optional Oracle into one call, the same role cmd/debswarm's main.go
// assembles inline for its single-source downloader, generalized into a
// reusable type so cmd/swarmget can stay a thin flag-to-Request mapper.
type Engine struct {
	cfg     config.Config
	adapter transport.Adapter
	oracle  oracle.Oracle
	logger  *zap.Logger
	metrics *metrics.Metrics
	workDir string

	scorer       *peerscore.Scorer
	limiter      *ratelimit.PeerLimiterManager
	telemetryPub *telemetry.Publisher
}

// New constructs an Engine. A nil oracle defaults to oracle.Nil{}; a nil
// logger defaults to a no-op logger. The Engine owns one peer scorer and
// one rate limiter manager for its whole lifetime, not one per job, so
// reputation and adaptive rates carry over across successive downloads
// against the same swarm of peers.
func New(cfg config.Config, adapter transport.Adapter, o oracle.Oracle, logger *zap.Logger, m *metrics.Metrics, workDir string) *Engine {
	if o == nil {
		o = oracle.Nil{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scorer := peerscore.NewScorer()

	var globalLimiter *ratelimit.Limiter
	if rate := cfg.Transfer.MaxDownloadRateBytes(); rate > 0 {
		globalLimiter = ratelimit.New(rate)
	}

	limiterCfg := ratelimit.DefaultPeerLimiterConfig()
	limiterCfg.GlobalLimit = cfg.Transfer.MaxDownloadRateBytes()
	limiterCfg.PerPeerLimit = cfg.Transfer.PerPeerDownloadRateBytes()
	limiterCfg.ExpectedPeers = cfg.Transfer.GetExpectedPeers()
	limiterCfg.MinPeerLimit = cfg.Transfer.AdaptiveMinRateBytes()
	limiterCfg.AdaptiveEnabled = cfg.Transfer.IsAdaptiveEnabled()
	limiterCfg.MaxBoostFactor = cfg.Transfer.AdaptiveMaxBoostFactor()
	limiterCfg.Logger = logger

	var limiter *ratelimit.PeerLimiterManager
	if cfg.Transfer.IsPerPeerEnabled() {
		limiter = ratelimit.NewPeerLimiterManager(limiterCfg, globalLimiter, scorer)
	}

	return &Engine{
		cfg: cfg, adapter: adapter, oracle: o, logger: logger, metrics: m, workDir: workDir,
		scorer: scorer, limiter: limiter, telemetryPub: telemetry.NewPublisher(),
	}
}

// Subscribe attaches a live listener for every chunk completed by any
// job this Engine runs from now on, across concurrent Download calls.
// Callers must invoke the returned unsubscribe func when done watching.
// A slow subscriber drops events rather than slowing a download; see
// telemetry.Publisher.Publish.
func (e *Engine) Subscribe(bufSize int) (<-chan telemetry.Event, func()) {
	return e.telemetryPub.Subscribe(bufSize)
}

// Close releases the Engine's background rate-limiter goroutines. Safe
// to call on an Engine built with per-peer limiting disabled.
func (e *Engine) Close() {
	if e.limiter != nil {
		e.limiter.Close()
	}
}

// Download runs one job to completion: builds the verified source pool
// (unless skipped), drives the Scheduler, finalizes the file through the
// Assembler, and publishes the resulting digest to the Oracle on
// success. It is safe to call concurrently for independent jobs; all
// per-job state lives in the Scheduler this call creates.
func (e *Engine) Download(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if len(req.Sources) == 0 {
		return &Result{Success: false, Err: ErrNoSources}, ErrNoSources
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.cfg.Swarm.ChunkSizeBytes()
	}
	chunks, err := chunkplan.Plan(req.TotalSize, chunkSize)
	if err != nil {
		return &Result{Success: false, Err: err}, err
	}

	sources := req.Sources
	if !req.SkipVerification && !e.cfg.Verify.SkipVerification {
		prefixSize := req.VerificationPrefixBytes
		if prefixSize <= 0 {
			prefixSize = e.cfg.Verify.PrefixSizeBytes()
		}
		pool, err := verifypool.Build(ctx, e.adapter, req.Sources, prefixSize, e.cfg.Verify.MinVerified(), e.cfg.Verify.MaxParallel())
		if err != nil {
			e.logger.Warn("swarm: verification pool build failed", zap.Error(err))
			if e.metrics != nil {
				e.metrics.VerificationFailures.Inc()
			}
			return &Result{Success: false, Err: err}, err
		}
		sources = pool.Sources

		if digest, ok, lookupErr := e.oracle.Lookup(ctx, req.TargetFilename); lookupErr == nil && ok && digest != pool.Digest {
			e.logger.Warn("swarm: oracle digest disagrees with verified pool", zap.String("oracle_digest", digest), zap.String("pool_digest", pool.Digest))
		}
	}
	sources = e.rankSources(sources)

	jobDir, err := os.MkdirTemp(e.workDir, "swarmget-job-*")
	if err != nil {
		return &Result{Success: false, Err: err}, fmt.Errorf("swarm: create job work dir: %w", err)
	}
	defer os.RemoveAll(jobDir)

	asm, err := assembler.New(req.TargetPath, req.TotalSize)
	if err != nil {
		return &Result{Success: false, Err: err}, err
	}

	cfg := e.jobSwarmConfig(req)
	sched := NewScheduler(cfg, e.adapter, asm, chunks, sources, jobDir, e.logger, e.metrics)
	sched.SetScoring(e.scorer, e.limiter)
	sched.SetTelemetryPublisher(e.telemetryPub)

	if e.metrics != nil {
		e.metrics.ActiveJobs.Inc()
		defer e.metrics.ActiveJobs.Dec()
	}

	runErr := sched.Run(ctx)
	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.JobDuration.Observe(elapsed.Seconds())
	}

	if runErr != nil {
		_ = asm.Abort()
		return &Result{Success: false, Elapsed: elapsed, Err: runErr}, runErr
	}

	chunksPerSource := make(map[transport.SourceRef]int)
	for _, src := range sched.registry.All() {
		for _, ref := range sources {
			if ref.PeerID == src.Peer {
				chunksPerSource[ref] = src.SuccessfulChunks()
			}
		}
	}

	if digest, digestErr := fileDigest(req.TargetPath); digestErr != nil {
		e.logger.Debug("swarm: could not digest assembled file, skipping oracle publish", zap.Error(digestErr))
	} else if err := e.oracle.Publish(ctx, req.TargetFilename, digest); err != nil {
		e.logger.Debug("swarm: oracle publish failed, non-fatal", zap.Error(err))
	}

	res := &Result{
		Success:         true,
		OutputPath:      req.TargetPath,
		Elapsed:         elapsed,
		TotalBytes:      req.TotalSize,
		ChunksPerSource: chunksPerSource,
	}
	if req.WantChunkTelemetry {
		res.ChunkTelemetry = sched.Telemetry()
	}
	return res, nil
}

// fileDigest computes the SHA-256 of a finished download for the
// post-job oracle publish. It reads the whole file once; this only runs
// after a successful job, never on the hot path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// rankSources reorders sources by the Engine's cross-job peer
// reputation, best first. Sources with no prior history score neutrally
// and keep their relative order.
func (e *Engine) rankSources(sources []transport.SourceRef) []transport.SourceRef {
	if e.scorer == nil || len(sources) == 0 {
		return sources
	}

	byPeer := make(map[peer.ID]transport.SourceRef, len(sources))
	candidates := make([]peer.AddrInfo, 0, len(sources))
	for _, ref := range sources {
		if _, dup := byPeer[ref.PeerID]; dup {
			continue
		}
		byPeer[ref.PeerID] = ref
		candidates = append(candidates, peer.AddrInfo{ID: ref.PeerID})
	}

	ranked := e.scorer.SelectBest(candidates, len(candidates))
	out := make([]transport.SourceRef, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, byPeer[c.ID])
	}
	return out
}

// jobSwarmConfig overlays per-request overrides onto the Engine's
// configured swarm defaults.
func (e *Engine) jobSwarmConfig(req Request) config.SwarmConfig {
	cfg := e.cfg.Swarm
	if req.PerChunkTimeout > 0 {
		cfg.ChunkTimeout = req.PerChunkTimeout.String()
	}
	if req.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = req.MaxConsecutiveFailures
	}
	if req.MaxRetryRounds > 0 {
		cfg.MaxRetryRounds = req.MaxRetryRounds
	}
	if req.MaxZeroProgressRounds > 0 {
		cfg.MaxZeroProgressRounds = req.MaxZeroProgressRounds
	}
	if req.SlowDuration > 0 {
		cfg.SlowDuration = req.SlowDuration.String()
	}
	if req.SlowTimeout > 0 {
		cfg.SlowTimeout = req.SlowTimeout.String()
	}
	if req.MinSourceFloorBPS > 0 {
		cfg.MinAcceptableSpeed = fmt.Sprintf("%d", req.MinSourceFloorBPS)
	}
	return cfg
}
