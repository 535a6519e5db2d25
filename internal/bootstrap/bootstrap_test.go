package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/ollama"
)

func testConfig() config.Config {
	return config.Config{
		SearchMaxRetries:   2,
		SearchBaseDelay:    10 * time.Millisecond,
		SearchMaxDelay:     50 * time.Millisecond,
		SearchMaxResults:   5,
		SearchConcurrency:  2,
		SearchRateLimitRPS: 1,
		LLMProvider:        config.ProviderOllama,
		LLMMaxRetries:      2,
		LLMBaseDelay:       10 * time.Millisecond,
		LLMMaxDelay:        50 * time.Millisecond,
		OllamaURL:          "http://127.0.0.1:1",
		OllamaGenModel:     "test",
		HistoryMessages:    4,
		MaxSubqueries:      2,
	}
}

func TestNewWithoutOptionalStores(t *testing.T) {
	app, err := New(context.Background(), testConfig(), Options{})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Search)
	assert.NotNil(t, app.Research)
	assert.Nil(t, app.Queue)
	assert.Nil(t, app.Relay)
}

func TestNewWithRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	app, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer app.Close()

	// tracing shutdown and the redis client
	assert.Len(t, app.closers, 2)
}

func TestNewWithTracingEnabled(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	cfg := testConfig()
	cfg.TracingEnabled = true
	cfg.TracingEndpoint = "localhost:4317"
	cfg.TracingSampleRate = 1
	app, err := New(context.Background(), cfg, Options{ServiceName: "research-test"})
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Tracing)
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer cache")
}

func TestNewCompleterSelectsProvider(t *testing.T) {
	cfg := testConfig()
	completer, err := newCompleter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, completer)

	cfg.LLMProvider = config.ProviderAnthropic
	cfg.AnthropicAPIKey = "sk-test"
	completer, err = newCompleter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Client{}, completer)

	cfg.LLMProvider = "other"
	_, err = newCompleter(cfg)
	require.Error(t, err)
}

func TestRetryConfigCarriesBreakerSettings(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 4
	cfg.BreakerOpenTimeout = time.Minute

	out := retryConfig(cfg, 5, time.Second, 30*time.Second)
	assert.Equal(t, 5, out.RetryMaxAttempts)
	assert.Equal(t, time.Second, out.RetryBaseDelay)
	assert.True(t, out.BreakerEnabled)
	assert.Equal(t, uint32(4), out.BreakerMinRequests)
	assert.Equal(t, 0.5, out.BreakerFailureRatio)
	assert.Equal(t, time.Minute, out.BreakerOpenTimeout)
}
