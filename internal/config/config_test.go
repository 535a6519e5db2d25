package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("LLM_PROVIDER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchMaxRetries != 5 {
		t.Fatalf("expected default search retries 5, got %d", cfg.SearchMaxRetries)
	}
	if cfg.SearchBaseDelay != time.Second || cfg.SearchMaxDelay != 30*time.Second {
		t.Fatalf("unexpected search delays %s/%s", cfg.SearchBaseDelay, cfg.SearchMaxDelay)
	}
	if cfg.LLMMaxRetries != 3 || cfg.LLMMaxDelay != 10*time.Second {
		t.Fatalf("unexpected llm retry defaults %d/%s", cfg.LLMMaxRetries, cfg.LLMMaxDelay)
	}
	if cfg.LLMProvider != ProviderOllama {
		t.Fatalf("expected default provider ollama, got %q", cfg.LLMProvider)
	}
	if cfg.CacheTTL != time.Hour || cfg.CacheEmptyTTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttls %s/%s", cfg.CacheTTL, cfg.CacheEmptyTTL)
	}
	if cfg.CacheComputeTimeout != 5*time.Minute {
		t.Fatalf("expected cache compute timeout 5m, got %s", cfg.CacheComputeTimeout)
	}
	if cfg.TracingEnabled || cfg.TracingEndpoint != "localhost:4317" || cfg.TracingSampleRate != 0.1 {
		t.Fatalf("unexpected tracing defaults %v/%q/%v", cfg.TracingEnabled, cfg.TracingEndpoint, cfg.TracingSampleRate)
	}
	if cfg.NATSSubject != "research.requests" {
		t.Fatalf("expected default subject research.requests, got %q", cfg.NATSSubject)
	}
	if cfg.PostgresDSN != "" || cfg.RedisAddr != "" {
		t.Fatalf("expected optional stores disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("SEARCH_MAX_RETRIES", "2")
	t.Setenv("SEARCH_BASE_DELAY", "250ms")
	t.Setenv("SEARCH_CONCURRENCY", "4")
	t.Setenv("BREAKER_ENABLED", "true")
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchMaxRetries != 2 {
		t.Fatalf("expected retries 2, got %d", cfg.SearchMaxRetries)
	}
	if cfg.SearchBaseDelay != 250*time.Millisecond {
		t.Fatalf("expected base delay 250ms, got %s", cfg.SearchBaseDelay)
	}
	if cfg.SearchConcurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.SearchConcurrency)
	}
	if !cfg.BreakerEnabled {
		t.Fatalf("expected breaker enabled")
	}
	if cfg.LLMProvider != ProviderAnthropic {
		t.Fatalf("expected provider anthropic, got %q", cfg.LLMProvider)
	}
}

func TestLoadConfigFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	content := "search_max_results: 7\nmax_subqueries: 2\nnats_subject: custom.requests\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("MAX_SUBQUERIES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchMaxResults != 7 {
		t.Fatalf("expected max results from file, got %d", cfg.SearchMaxResults)
	}
	if cfg.NATSSubject != "custom.requests" {
		t.Fatalf("expected subject from file, got %q", cfg.NATSSubject)
	}
	if cfg.MaxSubqueries != 5 {
		t.Fatalf("expected env to override file, got %d", cfg.MaxSubqueries)
	}
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("LLM_PROVIDER", "gpt")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestLoadRequiresAnthropicKey(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadRejectsSampleRateOutOfRange(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("TRACING_SAMPLE_RATE", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for sample rate above 1")
	}
}
