package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/raybeam/relay/internal/domain"
)

// Backoff computes the delay before a retry attempt. Attempt numbering starts
// at 0 for the first retry. Every strategy clamps to MaxDelay.
type Backoff struct {
	Kind         domain.BackoffKind
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func NewBackoff(config domain.RetryConfig) Backoff {
	return Backoff{
		Kind:         config.Kind,
		InitialDelay: config.InitialDelay,
		Multiplier:   config.Multiplier,
		MaxDelay:     config.MaxDelay,
	}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch b.Kind {
	case domain.BackoffFixed:
		delay = b.InitialDelay
	case domain.BackoffLinear:
		delay = b.InitialDelay * time.Duration(attempt+1)
	case domain.BackoffExponential:
		delay = time.Duration(float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt)))
	case domain.BackoffRandom:
		capped := b.capped(time.Duration(float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))))
		if capped <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(capped)) + 1)
	case domain.BackoffFibonacci:
		delay = b.InitialDelay * time.Duration(fibonacci(attempt+1))
	default:
		delay = b.InitialDelay
	}

	return b.capped(delay)
}

func (b Backoff) capped(delay time.Duration) time.Duration {
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	if delay < 0 {
		// Overflow from large exponents lands here.
		return b.MaxDelay
	}
	return delay
}

func fibonacci(n int) int64 {
	if n <= 0 {
		return 0
	}
	a, b := int64(0), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
		if a < 0 {
			return math.MaxInt64
		}
	}
	return a
}
