package ports

import (
	"context"
	"time"
)

type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type CircuitBreakerMetrics struct {
	State              CircuitBreakerState `json:"state"`
	FailureCount       int64               `json:"failure_count"`
	SuccessCount       int64               `json:"success_count"`
	ConsecutiveFailure int64               `json:"consecutive_failure"`
	OpenedAt           time.Time           `json:"opened_at,omitempty"`
	LastStateChange    time.Time           `json:"last_state_change"`
	TotalRequests      int64               `json:"total_requests"`
	RequestsRejected   int64               `json:"requests_rejected"`
	HalfOpenTrials     int64               `json:"half_open_trials"`
}

// CircuitBreaker guards one resource/action-type pair. The dispatcher uses
// the Allow/RecordSuccess/RecordFailure triple so it can decide per failure
// classification whether the breaker should count it; Execute wraps the
// triple for callers that do not need that control.
type CircuitBreaker interface {
	// Allow admits a call, transitioning open breakers to half-open once the
	// reset timeout has elapsed. A rejected call returns ErrCircuitOpen.
	Allow() error
	RecordSuccess()
	RecordFailure()

	// RecordUncounted reports a failure that must not move the closed-state
	// failure count. It still ends a half-open trial: the admitted slot is
	// returned and, because the trial did not succeed, the circuit reopens.
	// Every call admitted by Allow must be closed out by exactly one of
	// RecordSuccess, RecordFailure, or RecordUncounted.
	RecordUncounted()

	Execute(ctx context.Context, fn func(context.Context) error) error

	State() CircuitBreakerState
	Metrics() CircuitBreakerMetrics
	Reset()
}

// CircuitBreakerProvider owns one breaker per resource name. Breakers must
// not be duplicated across dispatcher instances without a shared provider.
type CircuitBreakerProvider interface {
	GetCircuitBreaker(name string) CircuitBreaker
	GetAllMetrics() map[string]CircuitBreakerMetrics
}
