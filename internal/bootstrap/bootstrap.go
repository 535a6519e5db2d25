package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/core/usecase"
	"github.com/kirillkom/research-assistant/internal/infrastructure/cache/redis"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/research-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/research-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/research-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/research-assistant/internal/infrastructure/search/duckduckgo"
	"github.com/kirillkom/research-assistant/internal/observability/tracing"
)

const tracerName = "github.com/kirillkom/research-assistant/usecase"

type Options struct {
	Logger   *zap.Logger
	Observer ports.PipelineObserver
	// ServiceName is reported on exported spans.
	ServiceName string
	// WithQueue connects to NATS and builds the request relay.
	WithQueue bool
}

type App struct {
	Config config.Config
	Logger *zap.Logger

	Search   *usecase.SearchExecutor
	Research *usecase.ResearchUseCase
	Queue    *nats.Queue
	Relay    *usecase.StreamRelay
	Tracing  *tracing.Provider

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "research-assistant"
	}
	tracer, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: serviceName,
		SampleRate:  cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	app.Tracing = tracer
	app.closers = append(app.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing_shutdown_failed", zap.Error(err))
		}
	})

	searchRetry := resilience.NewExecutor(retryConfig(cfg, cfg.SearchMaxRetries, cfg.SearchBaseDelay, cfg.SearchMaxDelay),
		resilience.WithLogger(logger))
	llmRetry := resilience.NewExecutor(retryConfig(cfg, cfg.LLMMaxRetries, cfg.LLMBaseDelay, cfg.LLMMaxDelay),
		resilience.WithLogger(logger))

	provider := duckduckgo.New(duckduckgo.Config{
		BaseURL:   cfg.SearchBaseURL,
		RateLimit: cfg.SearchRateLimitRPS,
	})
	app.Search = usecase.NewSearchExecutor(provider, searchRetry, usecase.SearchExecutorOptions{
		Concurrency: cfg.SearchConcurrency,
		Logger:      logger,
		Observer:    opts.Observer,
	})

	completer, err := newCompleter(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	synth := usecase.NewSynthesizer(completer, llmRetry, usecase.SynthesizerOptions{
		HistoryMessages: cfg.HistoryMessages,
		Logger:          logger,
		Observer:        opts.Observer,
	})

	var conversations ports.ConversationStore
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		repo := postgres.NewConversationRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		conversations = repo
	}

	var cache ports.AnswerCache
	if cfg.RedisAddr != "" {
		answerCache, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
			EmptyTTL: cfg.CacheEmptyTTL,

			ComputeTimeout: cfg.CacheComputeTimeout,
		}, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init answer cache: %w", err)
		}
		app.closers = append(app.closers, func() { _ = answerCache.Close() })
		cache = answerCache
	}

	app.Research = usecase.NewResearchUseCase(app.Search, synth, conversations, cache, usecase.ResearchOptions{
		DefaultMaxResults: cfg.SearchMaxResults,
		MaxSubqueries:     cfg.MaxSubqueries,
		HistoryMessages:   cfg.HistoryMessages,
		Logger:            logger,
		Observer:          opts.Observer,
		Tracer:            tracer.Tracer(tracerName),
	})

	if opts.WithQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(retryConfig(cfg, 3, 200*time.Millisecond, 2*time.Second),
				resilience.WithLogger(logger)),
			Logger: logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closers = append(app.closers, queue.Close)
		app.Queue = queue
		app.Relay = usecase.NewStreamRelay(app.Research, queue, logger)
	}

	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.Logger.Sync()
}

func newCompleter(cfg config.Config) (ports.TextCompleter, error) {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.AnthropicMaxTokens,
		}), nil
	case config.ProviderOllama:
		return ollama.New(cfg.OllamaURL, cfg.OllamaGenModel), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}

func retryConfig(cfg config.Config, attempts int, base, maxDelay time.Duration) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = attempts
	out.RetryBaseDelay = base
	out.RetryMaxDelay = maxDelay
	out.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = cfg.BreakerMinRequests
	}
	if cfg.BreakerFailureRatio > 0 {
		out.BreakerFailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerOpenTimeout > 0 {
		out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	return out
}
