package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Attempt records one invocation of the wrapped operation. Delay is the wait
// applied before it; the first attempt never waits.
type Attempt struct {
	Number         int
	Delay          time.Duration
	Err            error
	Classification ErrorClassification
}

type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRand fixes the jitter source, mainly for tests.
func WithRand(random func() float64) Option {
	return func(e *Executor) {
		e.backoff.Rand = random
	}
}

type Executor struct {
	cfg     Config
	backoff Backoff
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]Attempt]
}

func NewExecutor(cfg Config, opts ...Option) *Executor {
	normalized := cfg.normalize()
	e := &Executor{
		cfg:      normalized,
		backoff:  normalized.Backoff(),
		logger:   zap.NewNop(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]Attempt]),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) MaxAttempts() int {
	return e.cfg.RetryMaxAttempts
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	_, err := e.Run(ctx, operation, fn, classifier)
	return err
}

// Run is Execute that also returns every attempt made, in order.
func (e *Executor) Run(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) ([]Attempt, error) {
	if fn == nil {
		return nil, fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, op, fn, classifier)
	}

	breaker := e.circuitBreaker(op, classifier)
	attempts, err := breaker.Execute(func() ([]Attempt, error) {
		return e.executeWithRetry(ctx, op, fn, classifier)
	})
	if err != nil && IsCircuitOpen(err) {
		return append(attempts, Attempt{
			Number:         len(attempts) + 1,
			Err:            err,
			Classification: ErrorClassification{Retryable: false, RecordFailure: false},
		}), err
	}
	return attempts, err
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) ([]Attempt, error) {
	maxAttempts := e.cfg.RetryMaxAttempts
	attempts := make([]Attempt, 0, maxAttempts)

	var wait time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		err := fn(ctx)
		record := Attempt{Number: attempt, Delay: wait, Err: err}
		if err == nil {
			attempts = append(attempts, record)
			return attempts, nil
		}

		class := classifier(err)
		record.Classification = class
		attempts = append(attempts, record)
		if !class.Retryable || attempt == maxAttempts {
			return attempts, err
		}

		wait = e.backoff.Delay(attempt)
		e.logger.Warn("retry_attempt",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Float64("backoff_ms", float64(wait.Microseconds())/1000.0),
			zap.Error(err),
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempts, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return attempts, nil
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[[]Attempt] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			e.logger.Warn("circuit_breaker_state_change",
				zap.String("operation", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	breaker := gobreaker.NewCircuitBreaker[[]Attempt](settings)
	e.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
