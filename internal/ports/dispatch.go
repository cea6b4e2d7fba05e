package ports

import (
	"context"

	"github.com/raybeam/relay/internal/domain"
)

// DispatchPolicy is the per-step failure handling the dispatcher applies when
// the underlying unit fails.
type DispatchPolicy struct {
	Recovery   domain.RecoveryStrategy
	MaxRetries int
	Backoff    domain.RetryConfig
}

// DispatcherPort executes lease-fenced actions against registered units.
// Every dispatch emits a completion envelope carrying the action's
// correlation id, whatever the outcome.
type DispatcherPort interface {
	Dispatch(ctx context.Context, action domain.Action, policy DispatchPolicy) domain.Outcome
}
