package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/adapters/retry"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// Dispatcher executes lease-fenced actions against registered units, guarded
// by the per-resource circuit breaker and the configured recovery strategy.
//
// The fencing check runs immediately before every execution attempt, not just
// once at entry: a lease lost between backoff waits cancels the next attempt
// before its side effect can commit.
type Dispatcher struct {
	leases   ports.LeaseManagerPort
	units    ports.UnitRegistryPort
	breakers ports.CircuitBreakerProvider
	bus      ports.EventBusPort
	logger   *slog.Logger
	nodeID   string

	// tripOnTerminal counts non-retryable failures toward the breaker
	// threshold as well.
	tripOnTerminal bool
}

func NewDispatcher(
	leases ports.LeaseManagerPort,
	units ports.UnitRegistryPort,
	breakers ports.CircuitBreakerProvider,
	bus ports.EventBusPort,
	nodeID string,
	tripOnTerminal bool,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		leases:         leases,
		units:          units,
		breakers:       breakers,
		bus:            bus,
		logger:         logger.With("component", "dispatcher"),
		nodeID:         nodeID,
		tripOnTerminal: tripOnTerminal,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, action domain.Action, policy ports.DispatchPolicy) domain.Outcome {
	outcome := d.dispatch(ctx, action, policy)
	d.publishCompletion(action, outcome)
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, action domain.Action, policy ports.DispatchPolicy) domain.Outcome {
	unit, err := d.units.Resolve(action.Type)
	if err != nil {
		d.logger.Error("action references unknown unit",
			"action_id", action.ActionID,
			"unit", action.Type,
			"error", err.Error(),
		)
		return d.failed(action, 0, err, true)
	}

	breaker := d.breakers.GetCircuitBreaker(action.ResourceID)

	var result map[string]interface{}
	attempt := func(ctx context.Context) error {
		valid, err := d.leases.Validate(action.LeaseID, action.Epoch, action.ResourceID)
		if err != nil {
			return domain.NewTransientError("lease validation failed", err)
		}
		if !valid {
			return domain.ErrFenced
		}

		if err := breaker.Allow(); err != nil {
			return err
		}

		out, err := unit.Invoke(ctx, action.Payload)
		if err != nil {
			if domain.IsRetryable(err) || d.tripOnTerminal {
				breaker.RecordFailure()
			} else {
				breaker.RecordUncounted()
			}
			return err
		}

		breaker.RecordSuccess()
		result = out
		return nil
	}

	var attempts int
	if policy.Recovery == domain.RecoveryRetry {
		executor := retry.NewExecutor(domain.RetryConfig{
			Kind:         policy.Backoff.Kind,
			InitialDelay: policy.Backoff.InitialDelay,
			Multiplier:   policy.Backoff.Multiplier,
			MaxDelay:     policy.Backoff.MaxDelay,
			MaxRetries:   policy.MaxRetries,
		}, d.logger)
		attempts, err = executor.Do(ctx, action.Type, attempt)
	} else {
		attempts = 1
		err = attempt(ctx)
	}

	if err == nil {
		d.logger.Debug("action dispatched",
			"action_id", action.ActionID,
			"unit", action.Type,
			"attempts", attempts,
		)
		return domain.Outcome{
			ActionID:      action.ActionID,
			CorrelationID: action.CorrelationID,
			Status:        domain.OutcomeSuccess,
			Result:        result,
			Attempts:      attempts,
			CompletedAt:   time.Now().UTC(),
		}
	}

	switch {
	case domain.IsFenced(err):
		d.logger.Warn("action fenced, never executed under stale epoch",
			"action_id", action.ActionID,
			"resource_id", action.ResourceID,
			"epoch", action.Epoch,
		)
		return domain.Outcome{
			ActionID:      action.ActionID,
			CorrelationID: action.CorrelationID,
			Status:        domain.OutcomeFenced,
			Error:         err.Error(),
			Terminal:      true,
			Attempts:      attempts,
			CompletedAt:   time.Now().UTC(),
		}

	case domain.IsCircuitOpen(err):
		return domain.Outcome{
			ActionID:      action.ActionID,
			CorrelationID: action.CorrelationID,
			Status:        domain.OutcomeCircuitOpen,
			Error:         err.Error(),
			Attempts:      attempts,
			CompletedAt:   time.Now().UTC(),
		}

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return d.failed(action, attempts, err, true)
	}

	if policy.Recovery == domain.RecoverySkip {
		d.logger.Warn("step failed, skipping per recovery strategy",
			"action_id", action.ActionID,
			"unit", action.Type,
			"error", err.Error(),
		)
		return domain.Outcome{
			ActionID:      action.ActionID,
			CorrelationID: action.CorrelationID,
			Status:        domain.OutcomeSkipped,
			Error:         err.Error(),
			Attempts:      attempts,
			CompletedAt:   time.Now().UTC(),
		}
	}

	// Retry budget exhausted or the failure was never retryable.
	return d.failed(action, attempts, err, true)
}

func (d *Dispatcher) failed(action domain.Action, attempts int, err error, terminal bool) domain.Outcome {
	d.logger.Error("action failed",
		"action_id", action.ActionID,
		"unit", action.Type,
		"correlation_id", action.CorrelationID,
		"attempts", attempts,
		"terminal", terminal,
		"error", err.Error(),
	)
	return domain.Outcome{
		ActionID:      action.ActionID,
		CorrelationID: action.CorrelationID,
		Status:        domain.OutcomeFailed,
		Error:         err.Error(),
		Terminal:      terminal,
		Attempts:      attempts,
		CompletedAt:   time.Now().UTC(),
	}
}

func (d *Dispatcher) publishCompletion(action domain.Action, outcome domain.Outcome) {
	if d.bus == nil {
		return
	}

	d.bus.Publish(domain.Envelope{
		EnvelopeID:    uuid.New().String(),
		CorrelationID: action.CorrelationID,
		CausationID:   action.ActionID,
		SourceNode:    d.nodeID,
		Operation:     domain.OpActionCompleted,
		Payload: map[string]interface{}{
			"action_id": action.ActionID,
			"unit":      action.Type,
			"status":    string(outcome.Status),
			"attempts":  outcome.Attempts,
			"terminal":  outcome.Terminal,
		},
		IsResponse: true,
		Success:    outcome.Succeeded(),
		Error:      outcome.Error,
		EmittedAt:  time.Now().UTC(),
	})
}
