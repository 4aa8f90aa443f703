package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/RunForge/internal/config"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "responses.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Conversation.DefaultPolicy != "vendor" || cfg.Conversation.TTL != 24*time.Hour {
		t.Errorf("Conversation = %+v", cfg.Conversation)
	}
	if cfg.Planner.ContextWindowTokens != 128000 || cfg.Planner.DenseThreshold != 500 {
		t.Errorf("Planner = %+v", cfg.Planner)
	}
	if cfg.Runtime.Mode != "stub" || cfg.Runtime.MaxConcurrentProviderCalls != 8 {
		t.Errorf("Runtime = %+v", cfg.Runtime)
	}
	if cfg.Ops.CostPer1KTokens != 0.002 {
		t.Errorf("CostPer1KTokens = %v", cfg.Ops.CostPer1KTokens)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
server:
  port: "9090"
archive:
  dir: /var/lib/responses
  ttl_days: 7
conversation:
  default_policy: stateless
planner:
  context_window_tokens: 64000
`)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Archive.Dir != "/var/lib/responses" || cfg.Archive.TTLDays != 7 {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
	if cfg.Conversation.DefaultPolicy != "stateless" {
		t.Errorf("DefaultPolicy = %q", cfg.Conversation.DefaultPolicy)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Planner.ContextWindowTokens != 64000 {
		t.Errorf("ContextWindowTokens = %d", cfg.Planner.ContextWindowTokens)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, `
server:
  port: "9090"
`)
	t.Setenv("RESPONSES_PORT", "7070")
	t.Setenv("RESPONSES_DEFAULT_POLICY", "stateless")
	t.Setenv("RESPONSES_ARCHIVE_TTL_DAYS", "14")
	t.Setenv("RESPONSES_COST_PER_1K_TOKENS", "0.01")
	t.Setenv("RESPONSES_MAX_CONCURRENT_PROVIDER_CALLS", "3")
	t.Setenv("RESPONSES_CONVERSATION_TTL", "1h")

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("Port = %q, env must win over YAML", cfg.Server.Port)
	}
	if cfg.Conversation.DefaultPolicy != "stateless" {
		t.Errorf("DefaultPolicy = %q", cfg.Conversation.DefaultPolicy)
	}
	if cfg.Archive.TTLDays != 14 {
		t.Errorf("TTLDays = %d", cfg.Archive.TTLDays)
	}
	if cfg.Ops.CostPer1KTokens != 0.01 {
		t.Errorf("CostPer1KTokens = %v", cfg.Ops.CostPer1KTokens)
	}
	if cfg.Runtime.MaxConcurrentProviderCalls != 3 {
		t.Errorf("MaxConcurrentProviderCalls = %d", cfg.Runtime.MaxConcurrentProviderCalls)
	}
	if cfg.Conversation.TTL != time.Hour {
		t.Errorf("TTL = %v", cfg.Conversation.TTL)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "bad policy",
			env:  map[string]string{"RESPONSES_DEFAULT_POLICY": "sticky"},
			want: "default_policy",
		},
		{
			name: "bad window",
			env:  map[string]string{"RESPONSES_CONTEXT_WINDOW_TOKENS": "0"},
			want: "context_window_tokens",
		},
		{
			name: "bad ttl",
			env:  map[string]string{"RESPONSES_ARCHIVE_TTL_DAYS": "0"},
			want: "ttl_days",
		},
		{
			name: "bad concurrency",
			env:  map[string]string{"RESPONSES_MAX_CONCURRENT_PROVIDER_CALLS": "0"},
			want: "max_concurrent_provider_calls",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("got %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeYAML(t, "server: [not a map")
	if _, err := config.LoadFrom(path); err == nil {
		t.Error("malformed YAML must fail")
	}
}
