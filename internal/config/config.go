package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional YAML file whose keys mirror the
// environment variables below. Environment values win over the file.
const ConfigFileEnv = "RESEARCH_CONFIG"

const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	LogLevel string

	SearchMaxRetries   int
	SearchBaseDelay    time.Duration
	SearchMaxDelay     time.Duration
	SearchMaxResults   int
	SearchConcurrency  int
	SearchRateLimitRPS float64
	SearchBaseURL      string

	LLMProvider   string
	LLMMaxRetries int
	LLMBaseDelay  time.Duration
	LLMMaxDelay   time.Duration

	OllamaURL      string
	OllamaGenModel string

	AnthropicAPIKey    string
	AnthropicModel     string
	AnthropicMaxTokens int64

	HistoryMessages int
	MaxSubqueries   int

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CacheEmptyTTL time.Duration

	// CacheComputeTimeout bounds a shared answer computation.
	CacheComputeTimeout time.Duration

	NATSURL     string
	NATSSubject string

	WorkerMetricsPort    string
	WorkerRequestTimeout time.Duration

	BreakerEnabled      bool
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

func defaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("SEARCH_MAX_RETRIES", 5)
	v.SetDefault("SEARCH_BASE_DELAY", time.Second)
	v.SetDefault("SEARCH_MAX_DELAY", 30*time.Second)
	v.SetDefault("SEARCH_MAX_RESULTS", 10)
	v.SetDefault("SEARCH_CONCURRENCY", 1)
	v.SetDefault("SEARCH_RATE_LIMIT_RPS", 1.0)
	v.SetDefault("SEARCH_BASE_URL", "https://html.duckduckgo.com/html/")

	v.SetDefault("LLM_PROVIDER", ProviderOllama)
	v.SetDefault("LLM_MAX_RETRIES", 3)
	v.SetDefault("LLM_BASE_DELAY", time.Second)
	v.SetDefault("LLM_MAX_DELAY", 10*time.Second)

	v.SetDefault("OLLAMA_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_GEN_MODEL", "llama3.1:8b")

	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	v.SetDefault("ANTHROPIC_MAX_TOKENS", 2048)

	v.SetDefault("HISTORY_MESSAGES", 10)
	v.SetDefault("MAX_SUBQUERIES", 3)

	v.SetDefault("POSTGRES_DSN", "")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", time.Hour)
	v.SetDefault("CACHE_EMPTY_TTL", 5*time.Minute)
	v.SetDefault("CACHE_COMPUTE_TIMEOUT", 5*time.Minute)

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_SUBJECT", "research.requests")

	v.SetDefault("WORKER_METRICS_PORT", "9090")
	v.SetDefault("WORKER_REQUEST_TIMEOUT", 5*time.Minute)

	v.SetDefault("BREAKER_ENABLED", false)
	v.SetDefault("BREAKER_MIN_REQUESTS", 10)
	v.SetDefault("BREAKER_FAILURE_RATIO", 0.5)
	v.SetDefault("BREAKER_OPEN_TIMEOUT", 30*time.Second)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACING_SAMPLE_RATE", 0.1)
}

// Load reads defaults, the optional RESEARCH_CONFIG file and the environment.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		LogLevel: v.GetString("LOG_LEVEL"),

		SearchMaxRetries:   v.GetInt("SEARCH_MAX_RETRIES"),
		SearchBaseDelay:    v.GetDuration("SEARCH_BASE_DELAY"),
		SearchMaxDelay:     v.GetDuration("SEARCH_MAX_DELAY"),
		SearchMaxResults:   v.GetInt("SEARCH_MAX_RESULTS"),
		SearchConcurrency:  v.GetInt("SEARCH_CONCURRENCY"),
		SearchRateLimitRPS: v.GetFloat64("SEARCH_RATE_LIMIT_RPS"),
		SearchBaseURL:      v.GetString("SEARCH_BASE_URL"),

		LLMProvider:   strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		LLMMaxRetries: v.GetInt("LLM_MAX_RETRIES"),
		LLMBaseDelay:  v.GetDuration("LLM_BASE_DELAY"),
		LLMMaxDelay:   v.GetDuration("LLM_MAX_DELAY"),

		OllamaURL:      v.GetString("OLLAMA_URL"),
		OllamaGenModel: v.GetString("OLLAMA_GEN_MODEL"),

		AnthropicAPIKey:    v.GetString("ANTHROPIC_API_KEY"),
		AnthropicModel:     v.GetString("ANTHROPIC_MODEL"),
		AnthropicMaxTokens: v.GetInt64("ANTHROPIC_MAX_TOKENS"),

		HistoryMessages: v.GetInt("HISTORY_MESSAGES"),
		MaxSubqueries:   v.GetInt("MAX_SUBQUERIES"),

		PostgresDSN: v.GetString("POSTGRES_DSN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		CacheTTL:      v.GetDuration("CACHE_TTL"),
		CacheEmptyTTL: v.GetDuration("CACHE_EMPTY_TTL"),

		CacheComputeTimeout: v.GetDuration("CACHE_COMPUTE_TIMEOUT"),

		NATSURL:     v.GetString("NATS_URL"),
		NATSSubject: v.GetString("NATS_SUBJECT"),

		WorkerMetricsPort:    v.GetString("WORKER_METRICS_PORT"),
		WorkerRequestTimeout: v.GetDuration("WORKER_REQUEST_TIMEOUT"),

		BreakerEnabled:      v.GetBool("BREAKER_ENABLED"),
		BreakerMinRequests:  v.GetUint32("BREAKER_MIN_REQUESTS"),
		BreakerFailureRatio: v.GetFloat64("BREAKER_FAILURE_RATIO"),
		BreakerOpenTimeout:  v.GetDuration("BREAKER_OPEN_TIMEOUT"),

		TracingEnabled:    v.GetBool("TRACING_ENABLED"),
		TracingEndpoint:   v.GetString("OTLP_ENDPOINT"),
		TracingSampleRate: v.GetFloat64("TRACING_SAMPLE_RATE"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOllama:
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("config: ANTHROPIC_API_KEY is required when LLM_PROVIDER=%s", ProviderAnthropic)
		}
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.SearchMaxRetries < 1 {
		return fmt.Errorf("config: SEARCH_MAX_RETRIES must be at least 1")
	}
	if c.LLMMaxRetries < 1 {
		return fmt.Errorf("config: LLM_MAX_RETRIES must be at least 1")
	}
	if c.SearchMaxResults < 1 || c.SearchMaxResults > 50 {
		return fmt.Errorf("config: SEARCH_MAX_RESULTS must be within 1..50")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("config: TRACING_SAMPLE_RATE must be within 0..1")
	}
	return nil
}
