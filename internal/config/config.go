// Package config handles configuration loading and defaults for the swarm
// download engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for swarmget.
type Config struct {
	Swarm      SwarmConfig      `toml:"swarm"`
	Transfer   TransferConfig   `toml:"transfer"`
	Verify     VerifyConfig     `toml:"verify"`
	Oracle     OracleConfig     `toml:"oracle"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
	StateStore StateStoreConfig `toml:"state_store"`
}

// SwarmConfig controls the Scheduler's admission and retry behavior.
type SwarmConfig struct {
	ChunkSize              string  `toml:"chunk_size"`                 // e.g. "512KB"
	MinAcceptableSpeedPct  float64 `toml:"min_acceptable_speed_pct"`    // fraction of best observed speed, e.g. 0.15
	MinAcceptableSpeed     string  `toml:"min_acceptable_speed_floor"`  // absolute floor, e.g. "8KB/s"
	ChunkTimeout           string  `toml:"chunk_timeout"`               // hard per-chunk timeout
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures"`
	MaxRetryRounds         int     `toml:"max_retry_rounds"`           // bound A on retrying proven sources
	MaxZeroProgressRounds  int     `toml:"max_zero_progress_rounds"`   // bound B, whichever fires first wins
	StuckAfter             string  `toml:"stuck_after"`                // no progress for this long => desperation mode
	SlowDuration           string  `toml:"slow_duration"`              // dwell time under the speed floor before eviction
	SlowTimeout            string  `toml:"slow_timeout"`               // cooldown imposed on a slow-evicted source
}

// ChunkSizeBytes returns the parsed chunk size. Returns 512KB default.
func (c *SwarmConfig) ChunkSizeBytes() int64 {
	size, err := ParseSize(c.ChunkSize)
	if err != nil || size == 0 {
		return 512 * 1024
	}
	return size
}

// SpeedFloorPct returns the fractional speed threshold. Returns 0.15 default.
func (c *SwarmConfig) SpeedFloorPct() float64 {
	if c.MinAcceptableSpeedPct <= 0 {
		return 0.15
	}
	return c.MinAcceptableSpeedPct
}

// SpeedFloorBytes returns the absolute speed floor in bytes/sec. Returns 5KiB/s default.
func (c *SwarmConfig) SpeedFloorBytes() int64 {
	rate, err := ParseRate(c.MinAcceptableSpeed)
	if err != nil || rate == 0 {
		return 5 * 1024
	}
	return rate
}

// ChunkTimeoutDuration returns the per-chunk hard timeout. Returns 10s default.
func (c *SwarmConfig) ChunkTimeoutDuration() time.Duration {
	if c.ChunkTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.ChunkTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// MaxFailures returns the consecutive-failure tolerance per source. Returns 3 default.
func (c *SwarmConfig) MaxFailures() int {
	if c.MaxConsecutiveFailures <= 0 {
		return 3
	}
	return c.MaxConsecutiveFailures
}

// RetryRounds returns the retry-round bound. Returns 5 default.
func (c *SwarmConfig) RetryRounds() int {
	if c.MaxRetryRounds <= 0 {
		return 5
	}
	return c.MaxRetryRounds
}

// ZeroProgressRounds returns the zero-progress-round bound. Returns 3 default.
func (c *SwarmConfig) ZeroProgressRounds() int {
	if c.MaxZeroProgressRounds <= 0 {
		return 3
	}
	return c.MaxZeroProgressRounds
}

// StuckAfterDuration returns the no-progress duration before desperation mode. Returns 20s default.
func (c *SwarmConfig) StuckAfterDuration() time.Duration {
	if c.StuckAfter == "" {
		return 20 * time.Second
	}
	d, err := time.ParseDuration(c.StuckAfter)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// SlowDurationDuration returns how long a source's rolling speed must
// stay under the dynamic floor before it is evicted. Returns 8s default.
func (c *SwarmConfig) SlowDurationDuration() time.Duration {
	if c.SlowDuration == "" {
		return 8 * time.Second
	}
	d, err := time.ParseDuration(c.SlowDuration)
	if err != nil {
		return 8 * time.Second
	}
	return d
}

// SlowTimeoutDuration returns the cooldown imposed on a source evicted
// for sustained slow throughput. Returns 20s default.
func (c *SwarmConfig) SlowTimeoutDuration() time.Duration {
	if c.SlowTimeout == "" {
		return 20 * time.Second
	}
	d, err := time.ParseDuration(c.SlowTimeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// TransferConfig holds transfer/rate-limiting settings.
type TransferConfig struct {
	MaxDownloadRate     string `toml:"max_download_rate"`
	PerPeerDownloadRate string `toml:"per_peer_download_rate"` // "auto", "5MB/s", or "0" (disabled)
	ExpectedPeers       int    `toml:"expected_peers"`

	AdaptiveRateLimiting *bool   `toml:"adaptive_rate_limiting"`
	AdaptiveMinRate      string  `toml:"adaptive_min_rate"`
	AdaptiveMaxBoost     float64 `toml:"adaptive_max_boost"`
}

// MaxDownloadRateBytes returns the global download rate cap. 0 is unlimited.
func (c *TransferConfig) MaxDownloadRateBytes() int64 {
	rate, err := ParseRate(c.MaxDownloadRate)
	if err != nil {
		return 0
	}
	return rate
}

// PerPeerDownloadRateBytes returns the per-peer rate. 0 means auto-calculate.
func (c *TransferConfig) PerPeerDownloadRateBytes() int64 {
	if c.PerPeerDownloadRate == "" || c.PerPeerDownloadRate == "auto" {
		return 0
	}
	rate, err := ParseRate(c.PerPeerDownloadRate)
	if err != nil {
		return 0
	}
	return rate
}

// IsPerPeerEnabled reports whether per-peer limiting is active.
func (c *TransferConfig) IsPerPeerEnabled() bool {
	return c.PerPeerDownloadRate != "0"
}

// IsAdaptiveEnabled reports whether adaptive per-peer limiting is active.
func (c *TransferConfig) IsAdaptiveEnabled() bool {
	if c.AdaptiveRateLimiting != nil {
		return *c.AdaptiveRateLimiting
	}
	return c.IsPerPeerEnabled()
}

// AdaptiveMinRateBytes returns the adaptive rate floor. Returns 100KB/s default.
func (c *TransferConfig) AdaptiveMinRateBytes() int64 {
	if c.AdaptiveMinRate == "" {
		return 100 * 1024
	}
	rate, err := ParseRate(c.AdaptiveMinRate)
	if err != nil {
		return 100 * 1024
	}
	return rate
}

// AdaptiveMaxBoostFactor returns the adaptive boost multiplier. Returns 1.5 default, capped at 10.
func (c *TransferConfig) AdaptiveMaxBoostFactor() float64 {
	if c.AdaptiveMaxBoost <= 0 {
		return 1.5
	}
	if c.AdaptiveMaxBoost > 10 {
		return 10
	}
	return c.AdaptiveMaxBoost
}

// GetExpectedPeers returns the expected peer count for auto-calculation. Returns 10 default.
func (c *TransferConfig) GetExpectedPeers() int {
	if c.ExpectedPeers <= 0 {
		return 10
	}
	return c.ExpectedPeers
}

// VerifyConfig controls the verification pool builder.
type VerifyConfig struct {
	PrefixSize        string `toml:"prefix_size"`         // bytes read per source for digesting
	MinVerifiedSources int   `toml:"min_verified_sources"` // ErrInsufficientVerifiedSources below this
	MaxParallelDigests int   `toml:"max_parallel_digests"`
	SkipVerification  bool   `toml:"skip_verification"` // default false
}

// PrefixSizeBytes returns the digest prefix size. Returns 32KB default.
func (c *VerifyConfig) PrefixSizeBytes() int64 {
	size, err := ParseSize(c.PrefixSize)
	if err != nil || size == 0 {
		return 32 * 1024
	}
	return size
}

// MinVerified returns the minimum verified-source requirement. Returns 1 default.
func (c *VerifyConfig) MinVerified() int {
	if c.MinVerifiedSources <= 0 {
		return 1
	}
	return c.MinVerifiedSources
}

// MaxParallel returns the digest fan-out concurrency. Returns 8 default.
func (c *VerifyConfig) MaxParallel() int {
	if c.MaxParallelDigests <= 0 {
		return 8
	}
	return c.MaxParallelDigests
}

// OracleConfig controls the hash-oracle client used to publish/look up
// known-good digests across jobs.
type OracleConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// TimeoutDuration returns the oracle request timeout. Returns 10s default.
func (c *OracleConfig) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	Port int    `toml:"port"` // 0 to disable
	Bind string `toml:"bind"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// StateStoreConfig controls the post-hoc job ledger.
type StateStoreConfig struct {
	Path string `toml:"path"` // sqlite database path, "" disables the ledger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}

	return &Config{
		Swarm: SwarmConfig{
			ChunkSize:              "512KB",
			MinAcceptableSpeedPct:  0.15,
			MinAcceptableSpeed:     "5KB/s",
			ChunkTimeout:           "10s",
			MaxConsecutiveFailures: 3,
			MaxRetryRounds:         5,
			MaxZeroProgressRounds:  3,
			StuckAfter:             "20s",
			SlowDuration:           "8s",
			SlowTimeout:            "20s",
		},
		Transfer: TransferConfig{
			MaxDownloadRate:      "0",
			PerPeerDownloadRate:  "auto",
			ExpectedPeers:        10,
			AdaptiveRateLimiting: nil,
			AdaptiveMinRate:      "100KB/s",
			AdaptiveMaxBoost:     1.5,
		},
		Verify: VerifyConfig{
			PrefixSize:         "32KB",
			MinVerifiedSources: 1,
			MaxParallelDigests: 8,
			SkipVerification:   false,
		},
		Oracle: OracleConfig{
			Enabled: false,
			Timeout: "10s",
		},
		Metrics: MetricsConfig{
			Port: 9978,
			Bind: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		StateStore: StateStoreConfig{
			Path: filepath.Join(homeDir, ".local", "share", "swarmget", "jobs.db"),
		},
	}
}

// Load reads configuration from a file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ParseSize parses a size string like "10MB" into bytes.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	var size int64
	var unit string
	parseWithUnit(s, &size, &unit)

	multiplier := int64(1)
	switch unit {
	case "KB", "K":
		multiplier = 1024
	case "MB", "M":
		multiplier = 1024 * 1024
	case "GB", "G":
		multiplier = 1024 * 1024 * 1024
	case "TB", "T":
		multiplier = 1024 * 1024 * 1024 * 1024
	case "":
	default:
		return 0, fmt.Errorf("config: unrecognized size unit %q in %q", unit, s)
	}

	return size * multiplier, nil
}

func parseWithUnit(s string, size *int64, unit *string) int {
	var n int
	for i, c := range s {
		if c >= '0' && c <= '9' {
			*size = *size*10 + int64(c-'0')
			n = i + 1
		} else {
			break
		}
	}
	*unit = s[n:]
	return n
}

// ParseRate parses a rate string like "10MB/s" or "100KB" into bytes per
// second. Returns 0 for unlimited (empty string, "0", or "unlimited").
func ParseRate(s string) (int64, error) {
	if s == "" || s == "0" || s == "unlimited" {
		return 0, nil
	}

	rateStr := s
	if len(s) > 2 && s[len(s)-2:] == "/s" {
		rateStr = s[:len(s)-2]
	}

	return ParseSize(rateStr)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, fmt.Sprintf("  - %s: %s", err.Field, err.Message))
	}
	return fmt.Sprintf("config validation failed with %d errors:\n%s", len(e), strings.Join(msgs, "\n"))
}

// Validate checks configuration for errors and returns all validation failures.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Swarm.ChunkSize != "" {
		if size, err := ParseSize(c.Swarm.ChunkSize); err != nil || size <= 0 {
			errs = append(errs, ValidationError{
				Field:   "swarm.chunk_size",
				Message: fmt.Sprintf("invalid size %q", c.Swarm.ChunkSize),
			})
		}
	}

	if c.Swarm.MinAcceptableSpeedPct < 0 || c.Swarm.MinAcceptableSpeedPct > 1 {
		errs = append(errs, ValidationError{
			Field:   "swarm.min_acceptable_speed_pct",
			Message: "must be between 0 and 1",
		})
	}

	if c.Transfer.MaxDownloadRate != "" {
		if _, err := ParseRate(c.Transfer.MaxDownloadRate); err != nil {
			errs = append(errs, ValidationError{
				Field:   "transfer.max_download_rate",
				Message: fmt.Sprintf("invalid rate %q: %v", c.Transfer.MaxDownloadRate, err),
			})
		}
	}
	if c.Transfer.PerPeerDownloadRate != "" && c.Transfer.PerPeerDownloadRate != "auto" {
		if _, err := ParseRate(c.Transfer.PerPeerDownloadRate); err != nil {
			errs = append(errs, ValidationError{
				Field:   "transfer.per_peer_download_rate",
				Message: fmt.Sprintf("invalid rate %q: must be 'auto', '0', or a rate like '5MB/s'", c.Transfer.PerPeerDownloadRate),
			})
		}
	}
	if c.Transfer.AdaptiveMaxBoost < 0 {
		errs = append(errs, ValidationError{
			Field:   "transfer.adaptive_max_boost",
			Message: fmt.Sprintf("must be non-negative, got %v", c.Transfer.AdaptiveMaxBoost),
		})
	}

	if c.Verify.MinVerifiedSources < 0 {
		errs = append(errs, ValidationError{
			Field:   "verify.min_verified_sources",
			Message: "must be non-negative",
		})
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "metrics.port",
			Message: fmt.Sprintf("must be between 0 and 65535, got %d", c.Metrics.Port),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q; must be debug, info, warn, or error", c.Logging.Level),
		})
	}

	if c.Oracle.Enabled && c.Oracle.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "oracle.base_url",
			Message: "base_url is required when oracle is enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
