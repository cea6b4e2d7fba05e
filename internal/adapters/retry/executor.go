package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/raybeam/relay/internal/domain"
)

// Executor runs a function under backoff-scheduled retries. Only errors
// classified retryable are retried; everything else propagates immediately.
// Delays are scheduled against the context, never busy-waited.
type Executor struct {
	backoff    Backoff
	maxRetries int
	logger     *slog.Logger
}

func NewExecutor(config domain.RetryConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		backoff:    NewBackoff(config),
		maxRetries: config.MaxRetries,
		logger:     logger.With("component", "retry-executor"),
	}
}

// Do invokes fn until it succeeds, exhausts maxRetries, fails with a
// non-retryable error, or the context is cancelled. It returns the number of
// attempts made along with the final error.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	var err error
	attempts := 0

	for attempt := 0; ; attempt++ {
		attempts++
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}

		if !domain.IsRetryable(err) {
			e.logger.Debug("non-retryable failure, propagating",
				"operation", op,
				"attempt", attempt,
				"error", err.Error(),
			)
			return attempts, err
		}
		if attempt >= e.maxRetries {
			e.logger.Debug("retry budget exhausted",
				"operation", op,
				"attempts", attempts,
				"error", err.Error(),
			)
			return attempts, err
		}

		delay := e.backoff.Delay(attempt)
		e.logger.Debug("scheduling retry",
			"operation", op,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(delay):
		}
	}
}
