package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFenced means an action carried a stale (lease, epoch) pair. The caller
	// must re-acquire a lease; the action is never retried under the old epoch.
	ErrFenced = errors.New("lease epoch fenced")

	// ErrCircuitOpen is returned without attempting execution while the breaker
	// guarding the action's resource is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrLeaseConflict means another holder owns an unexpired lease.
	ErrLeaseConflict = errors.New("lease held by another owner")

	// ErrLeaseExpired means the referenced lease no longer exists or its TTL
	// elapsed before a renewal arrived.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrNoMatch signals that no transition applies to a (state, trigger) pair.
	// It is a valid evaluation outcome, not a failure.
	ErrNoMatch = errors.New("no matching transition")

	ErrAlreadyStarted = errors.New("adapter already started")
	ErrNotStarted     = errors.New("adapter not started")
	ErrNotFound       = errors.New("resource not found")
	ErrClosed         = errors.New("storage closed")
)

// ErrorCategory classifies runtime failures for retry and recovery decisions.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryTransient     ErrorCategory = "transient"
	CategoryTerminal      ErrorCategory = "terminal"
	CategoryStorage       ErrorCategory = "storage"
	CategoryValidation    ErrorCategory = "validation"
)

// DomainError carries the failure taxonomy used across the runtime. Transient
// errors are retryable under backoff; terminal errors surface straight to the
// workflow recovery strategy; configuration errors halt startup of the
// affected workflow or reducer.
type DomainError struct {
	Category      ErrorCategory
	Message       string
	CorrelationID string
	Step          string
	Retryable     bool
	Cause         error
	Details       map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Step != "" {
		b.WriteString(" (step=")
		b.WriteString(e.Step)
		b.WriteString(")")
	}
	if e.CorrelationID != "" {
		b.WriteString(" (correlation_id=")
		b.WriteString(e.CorrelationID)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

func (e *DomainError) WithCorrelation(id string) *DomainError {
	e.CorrelationID = id
	return e
}

func (e *DomainError) WithStep(step string) *DomainError {
	e.Step = step
	return e
}

func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func NewConfigurationError(message string, cause error) *DomainError {
	return &DomainError{
		Category:  CategoryConfiguration,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

func NewTransientError(message string, cause error) *DomainError {
	return &DomainError{
		Category:  CategoryTransient,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

func NewTerminalError(message string, cause error) *DomainError {
	return &DomainError{
		Category:  CategoryTerminal,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

func NewValidationError(scope, message string) *DomainError {
	return &DomainError{
		Category:  CategoryValidation,
		Message:   scope + ": " + message,
		Retryable: false,
	}
}

func NewStorageError(op, key string, cause error) *DomainError {
	return &DomainError{
		Category:  CategoryStorage,
		Message:   fmt.Sprintf("storage %s failed for key %s", op, key),
		Retryable: true,
		Cause:     cause,
	}
}

// IsRetryable reports whether local retry under backoff is allowed for err.
// Fenced and circuit-open failures are explicitly non-retryable at this level:
// fencing requires a fresh lease and the breaker schedules its own recovery.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFenced) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// IsTerminal reports whether err should bypass retry entirely and go straight
// to the workflow-level recovery strategy.
func IsTerminal(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category == CategoryTerminal
	}
	return false
}

func IsFenced(err error) bool {
	return errors.Is(err, ErrFenced)
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

func IsNoMatch(err error) bool {
	return errors.Is(err, ErrNoMatch)
}

func IsLeaseConflict(err error) bool {
	return errors.Is(err, ErrLeaseConflict)
}

// StorageError is the low-level error shape produced by StoragePort
// implementations. Version mismatches surface optimistic-concurrency losses.
type StorageError struct {
	Type    StorageErrorType
	Key     string
	Message string
}

type StorageErrorType int

const (
	ErrKeyNotFound StorageErrorType = iota
	ErrVersionMismatch
	ErrStoreClosed
)

func (e *StorageError) Error() string {
	return e.Message
}

func NewKeyNotFoundError(key string) *StorageError {
	return &StorageError{
		Type:    ErrKeyNotFound,
		Key:     key,
		Message: "key not found: " + key,
	}
}

func NewVersionMismatchError(key string, expected, actual int64) *StorageError {
	return &StorageError{
		Type:    ErrVersionMismatch,
		Key:     key,
		Message: fmt.Sprintf("version mismatch for key %s: expected %d, got %d", key, expected, actual),
	}
}

func IsVersionMismatch(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Type == ErrVersionMismatch
	}
	return false
}

func IsKeyNotFound(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Type == ErrKeyNotFound
	}
	return errors.Is(err, ErrNotFound)
}
