package resilience

import "time"

type Config struct {
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig matches the model invocation budget. Search callers raise
// RetryMaxAttempts and RetryMaxDelay through config.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    10 * time.Second,

		BreakerEnabled:          false,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) Backoff() Backoff {
	n := c.normalize()
	return Backoff{Base: n.RetryBaseDelay, Max: n.RetryMaxDelay}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryBaseDelay < 0 {
		out.RetryBaseDelay = def.RetryBaseDelay
	}
	if out.RetryMaxDelay <= 0 {
		out.RetryMaxDelay = def.RetryMaxDelay
	}
	if out.RetryMaxDelay < out.RetryBaseDelay {
		out.RetryMaxDelay = out.RetryBaseDelay
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
