package finhop

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_OverridesAndDefaults(t *testing.T) {
	content := `
max_concurrent_executions: 8
parallel: true
cache_ttl: 30m
risk_free_rate: 0.045
enable_event_bus: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.MaxConcurrentExecutions != 8 {
		t.Errorf("expected 8 concurrent executions, got %d", cfg.MaxConcurrentExecutions)
	}
	if !cfg.Parallel {
		t.Error("expected parallel execution enabled")
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.CacheTTL)
	}
	if cfg.RiskFreeRate != 0.045 {
		t.Errorf("expected 0.045 risk-free rate, got %v", cfg.RiskFreeRate)
	}
	if cfg.EnableEventBus {
		t.Error("expected event bus disabled")
	}
	// Unset fields keep their defaults.
	if cfg.EventBusBufferSize != DefaultConfig().EventBusBufferSize {
		t.Errorf("expected default buffer size, got %d", cfg.EventBusBufferSize)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cache_ttl: [not, a, duration]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed config")
	}
	if err := os.WriteFile(path, []byte("cache_ttl: 5 parsecs"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}
