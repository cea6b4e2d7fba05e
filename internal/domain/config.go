package domain

import (
	"log/slog"
	"time"
)

// BackoffKind selects the delay curve used between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
	BackoffRandom      BackoffKind = "random"
	BackoffFibonacci   BackoffKind = "fibonacci"
)

type Config struct {
	NodeID  string       `json:"node_id" yaml:"node_id"`
	DataDir string       `json:"data_dir" yaml:"data_dir"`
	Logger  *slog.Logger `json:"-" yaml:"-"`

	Lease          LeaseConfig          `json:"lease" yaml:"lease"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Events         EventsConfig         `json:"events" yaml:"events"`
	Health         HealthConfig         `json:"health" yaml:"health"`
}

type LeaseConfig struct {
	DefaultTTL     time.Duration `json:"default_ttl" yaml:"default_ttl"`
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	AcquireBackoff time.Duration `json:"acquire_backoff" yaml:"acquire_backoff"`
	// RenewFraction is the fraction of the TTL after which the auto-renewer
	// refreshes a held lease. Must leave headroom before expiry.
	RenewFraction float64 `json:"renew_fraction" yaml:"renew_fraction"`
}

type RetryConfig struct {
	Kind         BackoffKind   `json:"kind" yaml:"kind"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
	MaxTrialCalls    int           `json:"max_trial_calls" yaml:"max_trial_calls"`
	// TripOnTerminal counts non-retryable failures toward the threshold.
	// Off by default: only transient failures trip the circuit.
	TripOnTerminal bool `json:"trip_on_terminal" yaml:"trip_on_terminal"`
}

type EventsConfig struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

type HealthConfig struct {
	OutcomeHistory int `json:"outcome_history" yaml:"outcome_history"`
}
