// Package config provides hierarchical configuration loading for the
// Responses control plane. Precedence: defaults < YAML file < environment
// variables.
package config

import "time"

// Config holds all runtime configuration for the responsesd service.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	Archive      Archive      `yaml:"archive"`
	Conversation Conversation `yaml:"conversation"`
	Planner      Planner      `yaml:"planner"`
	Ops          Ops          `yaml:"ops"`
	Runtime      Runtime      `yaml:"runtime"`
	Otel         Otel         `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Archive holds run archive configuration. An empty Dir selects the
// in-memory backend.
type Archive struct {
	Dir            string `yaml:"dir"`
	ColdStorageDir string `yaml:"cold_storage_dir"`
	ExportDir      string `yaml:"export_dir"`
	TTLDays        int    `yaml:"ttl_days"`
}

// Conversation holds conversation state configuration. An empty NATSURL
// selects the in-memory store.
type Conversation struct {
	DefaultPolicy string        `yaml:"default_policy"` // "vendor" | "stateless"
	NATSURL       string        `yaml:"nats_url"`
	Bucket        string        `yaml:"bucket"`
	TTL           time.Duration `yaml:"ttl"`
}

// Planner holds history planner thresholds.
type Planner struct {
	ContextWindowTokens int `yaml:"context_window_tokens"`
	DenseThreshold      int `yaml:"dense_threshold"`
}

// Ops holds operator dashboard configuration.
type Ops struct {
	CostPer1KTokens float64       `yaml:"cost_per_1k_tokens"`
	SummaryCacheTTL time.Duration `yaml:"summary_cache_ttl"`
}

// Runtime holds run execution configuration. Mode "stub" swaps the provider
// client for the deterministic stub.
type Runtime struct {
	Mode                       string `yaml:"mode"` // "stub" | "provider"
	MaxConcurrentProviderCalls int64  `yaml:"max_concurrent_provider_calls"`
}

// Otel holds OpenTelemetry export configuration. An empty endpoint disables
// export entirely.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "responsesd",
		},
		Archive: Archive{
			TTLDays: 30,
		},
		Conversation: Conversation{
			DefaultPolicy: "vendor",
			Bucket:        "responses-conversations",
			TTL:           24 * time.Hour,
		},
		Planner: Planner{
			ContextWindowTokens: 128000,
			DenseThreshold:      500,
		},
		Ops: Ops{
			CostPer1KTokens: 0.002,
			SummaryCacheTTL: 5 * time.Second,
		},
		Runtime: Runtime{
			Mode:                       "stub",
			MaxConcurrentProviderCalls: 8,
		},
	}
}
