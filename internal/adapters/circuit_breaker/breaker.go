package circuit_breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

type circuitBreaker struct {
	name   string
	config domain.CircuitBreakerConfig
	logger *slog.Logger

	mu                 sync.Mutex
	state              ports.CircuitBreakerState
	failureCount       int64
	successCount       int64
	consecutiveFailure int64
	consecutiveSuccess int64
	openedAt           time.Time
	lastStateChange    time.Time
	nextTrial          time.Time
	totalRequests      int64
	requestsRejected   int64
	halfOpenInFlight   int64
	halfOpenTrials     int64

	onStateChange StateChangeHook
}

// StateChangeHook observes breaker transitions. Hooks run on their own
// goroutine and must not call back into the breaker synchronously with
// anything slower than a Metrics read.
type StateChangeHook func(name string, from, to ports.CircuitBreakerState)

func NewCircuitBreaker(name string, config domain.CircuitBreakerConfig, logger *slog.Logger) ports.CircuitBreaker {
	return NewCircuitBreakerWithHook(name, config, nil, logger)
}

func NewCircuitBreakerWithHook(name string, config domain.CircuitBreakerConfig, hook StateChangeHook, logger *slog.Logger) ports.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.MaxTrialCalls <= 0 {
		config.MaxTrialCalls = 1
	}

	return &circuitBreaker{
		name:            name,
		config:          config,
		logger:          logger.With("component", "circuit-breaker", "name", name),
		state:           ports.StateClosed,
		lastStateChange: time.Now(),
		onStateChange:   hook,
	}
}

func (cb *circuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	now := time.Now()
	if cb.state == ports.StateOpen && now.After(cb.nextTrial) {
		cb.setState(ports.StateHalfOpen)
	}

	switch cb.state {
	case ports.StateClosed:
		return nil
	case ports.StateOpen:
		cb.requestsRejected++
		return domain.ErrCircuitOpen
	case ports.StateHalfOpen:
		if cb.halfOpenInFlight < int64(cb.config.MaxTrialCalls) {
			cb.halfOpenInFlight++
			cb.halfOpenTrials++
			return nil
		}
		cb.requestsRejected++
		return domain.ErrCircuitOpen
	default:
		cb.requestsRejected++
		return domain.ErrCircuitOpen
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.consecutiveSuccess++
	cb.consecutiveFailure = 0

	if cb.state == ports.StateHalfOpen {
		cb.halfOpenInFlight--
		if cb.consecutiveSuccess >= int64(cb.config.SuccessThreshold) {
			cb.setState(ports.StateClosed)
		}
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.consecutiveFailure++
	cb.consecutiveSuccess = 0

	switch cb.state {
	case ports.StateClosed:
		if cb.consecutiveFailure >= int64(cb.config.FailureThreshold) {
			cb.setState(ports.StateOpen)
		}
	case ports.StateHalfOpen:
		cb.halfOpenInFlight--
		cb.setState(ports.StateOpen)
	}
}

func (cb *circuitBreaker) RecordUncounted() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Not a threshold event, but a half-open trial that did not succeed is
	// still a failed trial: free the slot and reopen.
	if cb.state == ports.StateHalfOpen {
		cb.halfOpenInFlight--
		cb.setState(ports.StateOpen)
	}
}

func (cb *circuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		cb.logger.Debug("request rejected", "state", cb.State().String())
		return err
	}

	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

func (cb *circuitBreaker) setState(newState ports.CircuitBreakerState) {
	oldState := cb.state
	if oldState == newState {
		return
	}

	cb.logger.Info("circuit breaker state change",
		"from", oldState.String(),
		"to", newState.String(),
		"consecutive_failures", cb.consecutiveFailure,
	)

	cb.state = newState
	cb.lastStateChange = time.Now()

	switch newState {
	case ports.StateOpen:
		cb.openedAt = time.Now()
		cb.nextTrial = time.Now().Add(cb.config.ResetTimeout)
		cb.consecutiveSuccess = 0
		cb.halfOpenInFlight = 0
	case ports.StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.consecutiveFailure = 0
	case ports.StateClosed:
		cb.nextTrial = time.Time{}
		cb.consecutiveFailure = 0
		cb.halfOpenInFlight = 0
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

func (cb *circuitBreaker) State() ports.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// An expired open interval is observable as half-open.
	if cb.state == ports.StateOpen && time.Now().After(cb.nextTrial) {
		return ports.StateHalfOpen
	}
	return cb.state
}

func (cb *circuitBreaker) Metrics() ports.CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return ports.CircuitBreakerMetrics{
		State:              cb.state,
		FailureCount:       cb.failureCount,
		SuccessCount:       cb.successCount,
		ConsecutiveFailure: cb.consecutiveFailure,
		OpenedAt:           cb.openedAt,
		LastStateChange:    cb.lastStateChange,
		TotalRequests:      cb.totalRequests,
		RequestsRejected:   cb.requestsRejected,
		HalfOpenTrials:     cb.halfOpenTrials,
	}
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Info("circuit breaker reset")

	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveFailure = 0
	cb.consecutiveSuccess = 0
	cb.totalRequests = 0
	cb.requestsRejected = 0
	cb.halfOpenTrials = 0
	cb.setState(ports.StateClosed)
}
