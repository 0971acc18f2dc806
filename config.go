package finhop

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration options for the finhop runtime.
type Config struct {
	// Maximum number of concurrent calculator invocations when parallel
	// scheduling is enabled.
	MaxConcurrentExecutions int

	// Parallel selects layered parallel-group dispatch instead of the
	// default sequential topological-order execution.
	Parallel bool

	// TTL for cached metric results.
	CacheTTL time.Duration

	// Annualized risk-free rate handed to the calculator for ratio metrics.
	RiskFreeRate float64

	// Optional YAML file with extra metric keyword aliases for the decomposer.
	MetricAliasFile string

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentExecutions: 4,
		Parallel:                false,
		CacheTTL:                15 * time.Minute,
		RiskFreeRate:            0.02,
		EnableEventBus:          true,
		EventBusBufferSize:      100,
		EventBusWorkerCount:     4,
	}
}

type configFile struct {
	MaxConcurrentExecutions int     `yaml:"max_concurrent_executions"`
	Parallel                bool    `yaml:"parallel"`
	CacheTTL                string  `yaml:"cache_ttl"`
	RiskFreeRate            float64 `yaml:"risk_free_rate"`
	MetricAliasFile         string  `yaml:"metric_alias_file"`
	EnableEventBus          *bool   `yaml:"enable_event_bus"`
	EventBusBufferSize      int     `yaml:"event_bus_buffer_size"`
	EventBusWorkerCount     int     `yaml:"event_bus_worker_count"`
}

// LoadConfig parses a YAML configuration file, filling unset fields with the
// defaults from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, NewConfigurationError(fmt.Sprintf("failed to open config file %q", path), err)
	}
	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cfg, NewConfigurationError(fmt.Sprintf("failed to parse config file %q", path), err)
	}

	if file.MaxConcurrentExecutions > 0 {
		cfg.MaxConcurrentExecutions = file.MaxConcurrentExecutions
	}
	cfg.Parallel = file.Parallel
	if file.CacheTTL != "" {
		ttl, err := time.ParseDuration(file.CacheTTL)
		if err != nil {
			return cfg, NewConfigurationError(fmt.Sprintf("invalid cache_ttl %q", file.CacheTTL), err)
		}
		cfg.CacheTTL = ttl
	}
	if file.RiskFreeRate != 0 {
		cfg.RiskFreeRate = file.RiskFreeRate
	}
	cfg.MetricAliasFile = file.MetricAliasFile
	if file.EnableEventBus != nil {
		cfg.EnableEventBus = *file.EnableEventBus
	}
	if file.EventBusBufferSize > 0 {
		cfg.EventBusBufferSize = file.EventBusBufferSize
	}
	if file.EventBusWorkerCount > 0 {
		cfg.EventBusWorkerCount = file.EventBusWorkerCount
	}
	return cfg, nil
}
