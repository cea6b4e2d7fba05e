package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "fenced", err: ErrFenced, want: false},
		{name: "wrapped fenced", err: fmt.Errorf("dispatch: %w", ErrFenced), want: false},
		{name: "circuit open", err: ErrCircuitOpen, want: false},
		{name: "transient", err: NewTransientError("connection reset", nil), want: true},
		{name: "terminal", err: NewTerminalError("payload rejected", nil), want: false},
		{name: "configuration", err: NewConfigurationError("bad table", nil), want: false},
		{name: "storage", err: NewStorageError("put", "lease:a", nil), want: true},
		{name: "unknown errors default to retryable", err: errors.New("boom"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDomainErrorWrapping(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewTransientError("publish failed", cause).
		WithCorrelation("corr-1").
		WithStep("notify").
		WithDetail("endpoint", "amqp://broker")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "publish failed")
	assert.Contains(t, err.Error(), "step=notify")
	assert.Contains(t, err.Error(), "correlation_id=corr-1")
	assert.Equal(t, "amqp://broker", err.Details["endpoint"])

	var de *DomainError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &de))
	assert.Equal(t, CategoryTransient, de.Category)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(NewTerminalError("gone", nil)))
	assert.False(t, IsTerminal(NewTransientError("flaky", nil)))
	assert.False(t, IsTerminal(errors.New("plain")))
}

func TestVersionMismatch(t *testing.T) {
	err := NewVersionMismatchError("workflow:record:1", 3, 5)
	assert.True(t, IsVersionMismatch(err))
	assert.False(t, IsVersionMismatch(NewKeyNotFoundError("workflow:record:1")))
	assert.False(t, IsVersionMismatch(errors.New("other")))
	assert.Contains(t, err.Error(), "expected 3")
}

func TestIsKeyNotFound(t *testing.T) {
	assert.True(t, IsKeyNotFound(NewKeyNotFoundError("lease:x")))
	assert.True(t, IsKeyNotFound(ErrNotFound))
	assert.False(t, IsKeyNotFound(NewVersionMismatchError("lease:x", 1, 2)))
}
