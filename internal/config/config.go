// Package config loads process configuration from defaults overlaid with
// TRAINGEN_* environment variables. The validation rule tables live here so
// numeric bounds can evolve without touching the pipeline code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	OpenRouter OpenRouterConfig
	Pool       PoolConfig
	Storage    StorageConfig
	Server     ServerConfig
	Export     ExportConfig
	Log        LogConfig
	Rules      Rules
}

type OpenRouterConfig struct {
	APIKey string
	// Models is the full model roster; the first half generates scenarios,
	// the second half generates reasoning.
	Models          []string
	ScenarioModels  []string
	ReasoningModels []string
}

type PoolConfig struct {
	MinWorkers        int
	MaxWorkers        int
	ScaleIntervalSecs int
	TaskQueueSize     int
}

type StorageConfig struct {
	DataDir        string
	WriteQueueSize int
	BatchSize      int
}

type ServerConfig struct {
	Port int
}

type ExportConfig struct {
	OutputDir string
}

type LogConfig struct {
	Level string
}

// Rules are the validation bounds applied by the format and content stages.
type Rules struct {
	PriceCeiling       float64
	EquityCeiling      float64
	MinLeverage        float64
	MaxLeverage        float64
	MinReasoningLen    int
	MaxReasoningLen    int
	MinSentences       int
	MinDecisionSummary int
	DomainKeywords     []string
	RiskReducingVerbs  []string
}

func defaults() Config {
	return Config{
		Pool: PoolConfig{
			MinWorkers:        4,
			MaxWorkers:        16,
			ScaleIntervalSecs: 5,
			TaskQueueSize:     1000,
		},
		Storage: StorageConfig{
			DataDir:        "data",
			WriteQueueSize: 10000,
			BatchSize:      100,
		},
		Server: ServerConfig{
			Port: 5000,
		},
		Export: ExportConfig{
			OutputDir: "output",
		},
		Log: LogConfig{
			Level: "info",
		},
		Rules: Rules{
			PriceCeiling:       1_000_000,
			EquityCeiling:      10_000_000,
			MinLeverage:        1,
			MaxLeverage:        100,
			MinReasoningLen:    100,
			MaxReasoningLen:    5000,
			MinSentences:       3,
			MinDecisionSummary: 10,
			DomainKeywords: []string{
				"price", "market", "risk", "position", "signal", "indicator", "trade",
			},
			RiskReducingVerbs: []string{
				"reduce", "close", "exit", "decrease", "stop",
			},
		},
	}
}

// Load reads configuration from defaults and TRAINGEN_* environment
// variables. A missing OpenRouter API key or model roster is a fatal
// configuration error.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.OpenRouter.APIKey == "" {
		return Config{}, fmt.Errorf(
			"missing required config: OpenRouter API key. Set it via TRAINGEN_OPENROUTER_API_KEY")
	}
	if len(cfg.OpenRouter.Models) == 0 {
		return Config{}, fmt.Errorf(
			"missing required config: model roster. Set TRAINGEN_MODELS to a comma-separated list")
	}
	splitModels(&cfg.OpenRouter)

	if cfg.Pool.MinWorkers < 1 || cfg.Pool.MaxWorkers < cfg.Pool.MinWorkers {
		return Config{}, fmt.Errorf("invalid worker bounds: min=%d max=%d",
			cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers)
	}

	return cfg, nil
}

// splitModels divides the roster: first half for scenarios, second half for
// reasoning. A single-model roster serves both stages.
func splitModels(or *OpenRouterConfig) {
	mid := len(or.Models) / 2
	if mid == 0 {
		or.ScenarioModels = or.Models
		or.ReasoningModels = or.Models
		return
	}
	or.ScenarioModels = or.Models[:mid]
	or.ReasoningModels = or.Models[mid:]
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRAINGEN_OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouter.APIKey = v
	}
	if v := os.Getenv("TRAINGEN_MODELS"); v != "" {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		cfg.OpenRouter.Models = models
	}
	setInt(&cfg.Pool.MinWorkers, "TRAINGEN_MIN_WORKERS")
	setInt(&cfg.Pool.MaxWorkers, "TRAINGEN_MAX_WORKERS")
	setInt(&cfg.Pool.ScaleIntervalSecs, "TRAINGEN_SCALE_INTERVAL")
	setInt(&cfg.Pool.TaskQueueSize, "TRAINGEN_TASK_QUEUE_SIZE")
	setInt(&cfg.Storage.WriteQueueSize, "TRAINGEN_WRITE_QUEUE_SIZE")
	setInt(&cfg.Storage.BatchSize, "TRAINGEN_BATCH_SIZE")
	setInt(&cfg.Server.Port, "TRAINGEN_PORT")
	if v := os.Getenv("TRAINGEN_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TRAINGEN_OUTPUT_DIR"); v != "" {
		cfg.Export.OutputDir = v
	}
	if v := os.Getenv("TRAINGEN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
