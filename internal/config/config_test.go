package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Swarm.ChunkSizeBytes() != 512*1024 {
		t.Errorf("ChunkSizeBytes = %d, want 512KB", cfg.Swarm.ChunkSizeBytes())
	}
	if cfg.Swarm.RetryRounds() != 5 {
		t.Errorf("RetryRounds = %d, want 5", cfg.Swarm.RetryRounds())
	}
	if cfg.Swarm.ZeroProgressRounds() != 3 {
		t.Errorf("ZeroProgressRounds = %d, want 3", cfg.Swarm.ZeroProgressRounds())
	}

	if cfg.Verify.SkipVerification {
		t.Error("SkipVerification should default to false")
	}
	if cfg.Verify.MinVerified() != 1 {
		t.Errorf("MinVerified = %d, want 1", cfg.Verify.MinVerified())
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load should not error for nonexistent file: %v", err)
	}
	if cfg.Swarm.ChunkSizeBytes() != 512*1024 {
		t.Error("Should return default config for nonexistent file")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[swarm]
chunk_size = "2MB"

[verify]
skip_verification = true

[logging]
level = "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Swarm.ChunkSizeBytes() != 2*1024*1024 {
		t.Errorf("ChunkSizeBytes = %d, want 2MB", cfg.Swarm.ChunkSizeBytes())
	}
	if !cfg.Verify.SkipVerification {
		t.Error("SkipVerification should be true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("invalid toml [[["), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load should fail with invalid TOML")
	}
}

func TestConfig_Save(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.toml")

	cfg := DefaultConfig()
	cfg.Swarm.ChunkSize = "2MB"
	cfg.Logging.Level = "warn"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Save did not create file")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Swarm.ChunkSizeBytes() != 2*1024*1024 {
		t.Errorf("ChunkSizeBytes = %d, want 2MB", loaded.Swarm.ChunkSizeBytes())
	}
	if loaded.Logging.Level != "warn" {
		t.Errorf("Level = %s, want warn", loaded.Logging.Level)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"100", 100},
		{"1KB", 1024},
		{"1K", 1024},
		{"10KB", 10 * 1024},
		{"1MB", 1024 * 1024},
		{"1M", 1024 * 1024},
		{"100MB", 100 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
		{"10GB", 10 * 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
		{"1T", 1024 * 1024 * 1024 * 1024},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			result, err := ParseSize(tc.input)
			if err != nil {
				t.Fatalf("ParseSize(%q) error: %v", tc.input, err)
			}
			if result != tc.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tc.input, result, tc.expected)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"0", 0},
		{"unlimited", 0},
		{"1MB/s", 1024 * 1024},
		{"10MB/s", 10 * 1024 * 1024},
		{"100KB/s", 100 * 1024},
		{"1GB/s", 1024 * 1024 * 1024},
		{"50MB", 50 * 1024 * 1024},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			result, err := ParseRate(tc.input)
			if err != nil {
				t.Fatalf("ParseRate(%q) error: %v", tc.input, err)
			}
			if result != tc.expected {
				t.Errorf("ParseRate(%q) = %d, want %d", tc.input, result, tc.expected)
			}
		})
	}
}

func TestLoad_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[swarm]
max_retry_rounds = 3
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Swarm.RetryRounds() != 3 {
		t.Errorf("RetryRounds = %d, want 3", cfg.Swarm.RetryRounds())
	}
	// defaults for untouched fields should survive
	if cfg.Swarm.ChunkSizeBytes() != 512*1024 {
		t.Errorf("ChunkSizeBytes = %d, want default 512KB", cfg.Swarm.ChunkSizeBytes())
	}
	if cfg.Verify.MinVerified() != 1 {
		t.Errorf("MinVerified = %d, want default 1", cfg.Verify.MinVerified())
	}
}

func TestSwarmConfig_ChunkTimeoutDuration(t *testing.T) {
	c := &SwarmConfig{}
	if c.ChunkTimeoutDuration() != 10*time.Second {
		t.Errorf("default ChunkTimeoutDuration = %v, want 10s", c.ChunkTimeoutDuration())
	}
	c.ChunkTimeout = "5s"
	if c.ChunkTimeoutDuration() != 5*time.Second {
		t.Errorf("ChunkTimeoutDuration = %v, want 5s", c.ChunkTimeoutDuration())
	}
}

func TestSwarmConfig_StuckAfterDuration(t *testing.T) {
	c := &SwarmConfig{}
	if c.StuckAfterDuration() != 20*time.Second {
		t.Errorf("default StuckAfterDuration = %v, want 20s", c.StuckAfterDuration())
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() should not error, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Port = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for invalid metrics port")
	}
	if !contains(err.Error(), "metrics.port") {
		t.Errorf("Error should mention metrics.port, got: %s", err.Error())
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "invalid-level"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !contains(err.Error(), "logging.level") {
		t.Errorf("Error should mention logging.level, got: %s", err.Error())
	}
}

func TestValidate_OracleEnabledNoBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for oracle enabled without base_url")
	}
	if !contains(err.Error(), "oracle.base_url") {
		t.Errorf("Error should mention oracle.base_url, got: %s", err.Error())
	}
}

func TestValidationErrors_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Port = 99999
	cfg.Logging.Level = "bad"
	cfg.Oracle.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected multiple validation errors")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Expected ValidationErrors type, got %T", err)
	}
	if len(errs) < 3 {
		t.Errorf("Expected at least 3 errors, got %d: %v", len(errs), errs)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && containsHelper(s, substr)
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestTransferConfig_MaxDownloadRateBytes(t *testing.T) {
	tests := []struct {
		name     string
		rate     string
		expected int64
	}{
		{"10MB/s", "10MB/s", 10 * 1024 * 1024},
		{"1MB/s", "1MB/s", 1024 * 1024},
		{"0 (unlimited)", "0", 0},
		{"invalid falls back to 0", "invalid", 0},
		{"empty falls back to 0", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &TransferConfig{MaxDownloadRate: tt.rate}
			got := cfg.MaxDownloadRateBytes()
			if got != tt.expected {
				t.Errorf("MaxDownloadRateBytes() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestTransferConfig_IsAdaptiveEnabled(t *testing.T) {
	cfg := &TransferConfig{PerPeerDownloadRate: "auto"}
	if !cfg.IsAdaptiveEnabled() {
		t.Error("adaptive should default on when per-peer is active")
	}

	cfg.PerPeerDownloadRate = "0"
	if cfg.IsAdaptiveEnabled() {
		t.Error("adaptive should be off when per-peer is disabled")
	}

	enabled := true
	cfg.AdaptiveRateLimiting = &enabled
	if !cfg.IsAdaptiveEnabled() {
		t.Error("explicit override should win")
	}
}
