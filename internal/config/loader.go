package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "responses.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "RESPONSES_PORT")
	setString(&cfg.Server.CORSOrigin, "RESPONSES_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "RESPONSES_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RESPONSES_LOG_SERVICE")
	setString(&cfg.Archive.Dir, "RESPONSES_ARCHIVE_DIR")
	setString(&cfg.Archive.ColdStorageDir, "RESPONSES_ARCHIVE_COLD_STORAGE_DIR")
	setString(&cfg.Archive.ExportDir, "RESPONSES_ARCHIVE_EXPORT_DIR")
	setInt(&cfg.Archive.TTLDays, "RESPONSES_ARCHIVE_TTL_DAYS")
	setString(&cfg.Conversation.DefaultPolicy, "RESPONSES_DEFAULT_POLICY")
	setString(&cfg.Conversation.NATSURL, "RESPONSES_NATS_URL")
	setString(&cfg.Conversation.Bucket, "RESPONSES_CONVERSATION_BUCKET")
	setDuration(&cfg.Conversation.TTL, "RESPONSES_CONVERSATION_TTL")
	setInt(&cfg.Planner.ContextWindowTokens, "RESPONSES_CONTEXT_WINDOW_TOKENS")
	setInt(&cfg.Planner.DenseThreshold, "RESPONSES_DENSE_THRESHOLD")
	setFloat64(&cfg.Ops.CostPer1KTokens, "RESPONSES_COST_PER_1K_TOKENS")
	setDuration(&cfg.Ops.SummaryCacheTTL, "RESPONSES_SUMMARY_CACHE_TTL")
	setString(&cfg.Runtime.Mode, "RESPONSES_RUNTIME_MODE")
	setInt64(&cfg.Runtime.MaxConcurrentProviderCalls, "RESPONSES_MAX_CONCURRENT_PROVIDER_CALLS")
	setString(&cfg.Otel.Endpoint, "RESPONSES_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Conversation.DefaultPolicy != "vendor" && cfg.Conversation.DefaultPolicy != "stateless" {
		return errors.New("conversation.default_policy must be vendor or stateless")
	}
	if cfg.Planner.ContextWindowTokens < 1 {
		return errors.New("planner.context_window_tokens must be >= 1")
	}
	if cfg.Archive.TTLDays < 1 {
		return errors.New("archive.ttl_days must be >= 1")
	}
	if cfg.Runtime.MaxConcurrentProviderCalls < 1 {
		return errors.New("runtime.max_concurrent_provider_calls must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
