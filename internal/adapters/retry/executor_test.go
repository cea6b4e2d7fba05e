package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raybeam/relay/internal/domain"
)

func testConfig(maxRetries int) domain.RetryConfig {
	return domain.RetryConfig{
		Kind:         domain.BackoffFixed,
		InitialDelay: time.Millisecond,
		MaxRetries:   maxRetries,
	}
}

func TestExecutorSucceedsFirstAttempt(t *testing.T) {
	executor := NewExecutor(testConfig(3), nil)

	attempts, err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	executor := NewExecutor(testConfig(3), nil)

	calls := 0
	attempts, err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.NewTransientError("flaky", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestExecutorExhaustsRetryBudget(t *testing.T) {
	executor := NewExecutor(testConfig(2), nil)

	calls := 0
	attempts, err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.NewTransientError("always failing", nil)
	})

	require.Error(t, err)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestExecutorStopsOnTerminalError(t *testing.T) {
	executor := NewExecutor(testConfig(5), nil)

	calls := 0
	attempts, err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.NewTerminalError("rejected", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestExecutorStopsOnFencedError(t *testing.T) {
	executor := NewExecutor(testConfig(5), nil)

	attempts, err := executor.Do(context.Background(), "op", func(ctx context.Context) error {
		return domain.ErrFenced
	})

	require.ErrorIs(t, err, domain.ErrFenced)
	assert.Equal(t, 1, attempts)
}

func TestExecutorHonorsContextCancellation(t *testing.T) {
	config := domain.RetryConfig{
		Kind:         domain.BackoffFixed,
		InitialDelay: time.Minute,
		MaxRetries:   5,
	}
	executor := NewExecutor(config, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := executor.Do(ctx, "op", func(ctx context.Context) error {
		return domain.NewTransientError("flaky", nil)
	})

	require.ErrorIs(t, err, context.Canceled)
}
