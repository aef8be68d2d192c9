package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-sub000/internal/httpclient"
	"github.com/snapetech/slskdn-sub000/internal/metrics"
	"github.com/snapetech/slskdn-sub000/internal/oracle"
	"github.com/snapetech/slskdn-sub000/internal/sqlitestate"
	"github.com/snapetech/slskdn-sub000/internal/swarm"
	"github.com/snapetech/slskdn-sub000/internal/telemetry"
	"github.com/snapetech/slskdn-sub000/internal/transport"
)

var (
	fetchOutput            string
	fetchSize              int64
	fetchChunkSize         string
	fetchPeers             []string
	fetchSimulate          bool
	fetchSkipVerification  bool
	fetchMaxRetryRounds    int
	fetchMaxConsecFailures int
	fetchHistoryDB         string
	fetchOracleURL         string
	fetchWatch             bool
)

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one swarm download job",
		Long: `fetch drives a single download job through the engine. Today the
only wired transport is --simulate, a deterministic in-memory stand-in
for the underlying file-sharing network: synthetic content of the
requested size is generated and served by a SimulatedAdapter according
to the --peer specs given.`,
		RunE: runFetch,
	}

	cmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "local path to write the assembled file (required)")
	cmd.Flags().Int64Var(&fetchSize, "size", 1<<20, "synthetic content size in bytes (--simulate only)")
	cmd.Flags().StringVar(&fetchChunkSize, "chunk-size", "", "override configured chunk size, e.g. 256KB")
	cmd.Flags().StringSliceVar(&fetchPeers, "peer", nil, "peer spec id[:throughputBps[:errorRate]], repeatable")
	cmd.Flags().BoolVar(&fetchSimulate, "simulate", true, "use the simulated in-memory transport")
	cmd.Flags().BoolVar(&fetchSkipVerification, "skip-verification", false, "skip the source verification pool")
	cmd.Flags().IntVar(&fetchMaxRetryRounds, "max-retry-rounds", 0, "override configured retry-round bound (0 = use config)")
	cmd.Flags().IntVar(&fetchMaxConsecFailures, "max-consecutive-failures", 0, "override configured per-source failure tolerance (0 = use config)")
	cmd.Flags().StringVar(&fetchHistoryDB, "history-db", "", "sqlite path to record the completed job (optional)")
	cmd.Flags().StringVar(&fetchOracleURL, "oracle-url", "", "hash oracle base URL (optional)")
	cmd.Flags().BoolVar(&fetchWatch, "watch", false, "print each completed chunk as it lands, via the engine's live telemetry subscription")

	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	if fetchOutput == "" {
		return fmt.Errorf("--output is required")
	}
	if !fetchSimulate {
		return fmt.Errorf("only --simulate is wired in this build; no live transport is configured")
	}

	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if fetchChunkSize != "" {
		cfg.Swarm.ChunkSize = fetchChunkSize
	}

	adapter, sources, err := buildSimulatedAdapter(fetchSize, fetchPeers)
	if err != nil {
		return err
	}

	var o oracle.Oracle = oracle.Nil{}
	if fetchOracleURL != "" {
		o = oracle.NewHTTPOracle(fetchOracleURL, &httpclient.Config{Timeout: cfg.Oracle.TimeoutDuration()})
	}

	m := metrics.New()
	workDir, err := os.MkdirTemp("", "swarmget-work-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	engine := swarm.New(*cfg, adapter, o, logger, m, workDir)
	defer engine.Close()

	if fetchWatch {
		events, unsubscribe := engine.Subscribe(32)
		defer unsubscribe()
		go watchTelemetry(logger, events)
	}

	req := swarm.Request{
		TargetFilename:         "/simulated.bin",
		TargetPath:             fetchOutput,
		TotalSize:              fetchSize,
		Sources:                sources,
		SkipVerification:       fetchSkipVerification,
		MaxRetryRounds:         fetchMaxRetryRounds,
		MaxConsecutiveFailures: fetchMaxConsecFailures,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	res, err := engine.Download(ctx, req)
	if err != nil {
		logger.Error("fetch failed", zap.Error(err))
		return err
	}

	logger.Info("fetch completed",
		zap.String("output", res.OutputPath),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int64("bytes", res.TotalBytes))

	if fetchHistoryDB != "" {
		if err := recordHistory(ctx, fetchHistoryDB, req, res, start); err != nil {
			logger.Warn("failed to record job history", zap.Error(err))
		}
	}

	return nil
}

// watchTelemetry logs each chunk completion event until the channel is
// closed by the engine's unsubscribe func. It runs in its own goroutine
// for the lifetime of one fetch invocation.
func watchTelemetry(logger *zap.Logger, events <-chan telemetry.Event) {
	for ev := range events {
		logger.Info("chunk landed",
			zap.String("peer", ev.Peer.String()),
			zap.Int("chunk", ev.ChunkIndex),
			zap.Int64("bytes", ev.BytesWritten),
			zap.Duration("ttfb", ev.TTFB),
			zap.Duration("transfer_time", ev.TransferTime))
	}
}

// buildSimulatedAdapter generates deterministic synthetic content of
// the requested size and registers a simulated peer per spec. With no
// --peer flags given, it falls back to three peers of varying speed so
// `swarmget fetch --simulate` produces a meaningful swarm out of the box.
func buildSimulatedAdapter(size int64, specs []string) (transport.Adapter, []transport.SourceRef, error) {
	a := transport.NewSimulatedAdapter()

	content := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	rng.Read(content)
	a.AddContent("/simulated.bin", content)

	if len(specs) == 0 {
		specs = []string{"peer-a:500000", "peer-b:200000", "peer-c:50000"}
	}

	sources := make([]transport.SourceRef, 0, len(specs))
	for _, spec := range specs {
		id, profile, err := parsePeerSpec(spec)
		if err != nil {
			return nil, nil, err
		}
		a.AddPeer(id, profile)
		sources = append(sources, transport.SourceRef{PeerID: id, RemotePath: "/simulated.bin"})
	}

	return a, sources, nil
}

func parsePeerSpec(spec string) (peer.ID, transport.PeerProfile, error) {
	parts := strings.Split(spec, ":")
	id := peer.ID(parts[0])
	profile := transport.PeerProfile{ThroughputBps: 200000}

	if len(parts) > 1 {
		bps, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return "", transport.PeerProfile{}, fmt.Errorf("invalid throughput in peer spec %q: %w", spec, err)
		}
		profile.ThroughputBps = bps
	}
	if len(parts) > 2 {
		rate, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return "", transport.PeerProfile{}, fmt.Errorf("invalid error rate in peer spec %q: %w", spec, err)
		}
		profile.ErrorRate = rate
	}

	return id, profile, nil
}

func recordHistory(ctx context.Context, dbPath string, req swarm.Request, res *swarm.Result, start time.Time) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return err
	}
	store, err := sqlitestate.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	chunksPerSource := make(map[peer.ID]int, len(res.ChunksPerSource))
	for ref, n := range res.ChunksPerSource {
		chunksPerSource[ref.PeerID] = n
	}

	return store.RecordCompletedJob(ctx, sqlitestate.CompletedJob{
		TargetFilename:  req.TargetFilename,
		TargetPath:      req.TargetPath,
		TotalBytes:      res.TotalBytes,
		Elapsed:         res.Elapsed,
		ChunksPerSource: chunksPerSource,
	})
}
