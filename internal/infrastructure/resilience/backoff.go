package resilience

import (
	"math/rand/v2"
	"time"
)

// JitterFraction bounds the random addition to each delay.
const JitterFraction = 0.1

// Backoff computes exponential delays: Base*2^attempt capped at Max, plus a
// uniform jitter in [0, JitterFraction*delay].
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base < 0 {
		base = 0
	}
	ceiling := b.Max
	if ceiling < base {
		ceiling = base
	}

	delay := base
	for i := 0; i < attempt && delay < ceiling; i++ {
		if delay > ceiling/2 {
			delay = ceiling
			break
		}
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	if delay == 0 {
		return 0
	}

	random := b.Rand
	if random == nil {
		random = rand.Float64
	}
	r := random()
	if r < 0 || r >= 1 {
		r = 0
	}
	return delay + time.Duration(float64(delay)*JitterFraction*r)
}
