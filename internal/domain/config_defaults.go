package domain

import (
	"time"

	"github.com/google/uuid"
)

func DefaultConfig() *Config {
	return &Config{
		Lease:          DefaultLeaseConfig(),
		Retry:          DefaultRetryConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Events:         DefaultEventsConfig(),
		Health:         DefaultHealthConfig(),
	}
}

func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{
		DefaultTTL:     15 * time.Second,
		AcquireTimeout: 5 * time.Second,
		AcquireBackoff: 100 * time.Millisecond,
		RenewFraction:  0.5,
	}
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Kind:         BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		MaxRetries:   3,
	}
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Second,
		MaxTrialCalls:    1,
	}
}

func DefaultEventsConfig() EventsConfig {
	return EventsConfig{BufferSize: 256}
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{OutcomeHistory: 64}
}

// ApplyDefaults normalizes a user-supplied config in place, filling empty
// fields from the defaults above.
func (c *Config) ApplyDefaults() {
	if c.NodeID == "" {
		c.NodeID = "relay-" + uuid.New().String()[:8]
	}
	d := DefaultConfig()
	if c.Lease.DefaultTTL <= 0 {
		c.Lease.DefaultTTL = d.Lease.DefaultTTL
	}
	if c.Lease.AcquireTimeout <= 0 {
		c.Lease.AcquireTimeout = d.Lease.AcquireTimeout
	}
	if c.Lease.AcquireBackoff <= 0 {
		c.Lease.AcquireBackoff = d.Lease.AcquireBackoff
	}
	if c.Lease.RenewFraction <= 0 || c.Lease.RenewFraction >= 1 {
		c.Lease.RenewFraction = d.Lease.RenewFraction
	}
	if c.Retry.Kind == "" {
		c.Retry.Kind = d.Retry.Kind
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		c.CircuitBreaker.SuccessThreshold = d.CircuitBreaker.SuccessThreshold
	}
	if c.CircuitBreaker.ResetTimeout <= 0 {
		c.CircuitBreaker.ResetTimeout = d.CircuitBreaker.ResetTimeout
	}
	if c.CircuitBreaker.MaxTrialCalls <= 0 {
		c.CircuitBreaker.MaxTrialCalls = d.CircuitBreaker.MaxTrialCalls
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = d.Events.BufferSize
	}
	if c.Health.OutcomeHistory <= 0 {
		c.Health.OutcomeHistory = d.Health.OutcomeHistory
	}
}
