package domain

import "time"

// Action is a lease-fenced, dispatchable unit of work. Retries reuse the same
// ActionID; Epoch only changes when a new lease is acquired after ownership
// moved, never on an ordinary retry.
type Action struct {
	ActionID      string                 `json:"action_id"`
	Type          string                 `json:"type"`
	ResourceID    string                 `json:"resource_id"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	LeaseID       string                 `json:"lease_id"`
	Epoch         int64                  `json:"epoch"`
	CorrelationID string                 `json:"correlation_id"`
	CreatedAt     time.Time              `json:"created_at"`
}

// OutcomeStatus is the terminal classification of one dispatch call.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeFenced      OutcomeStatus = "fenced"
	OutcomeCircuitOpen OutcomeStatus = "circuit_open"
	OutcomeSkipped     OutcomeStatus = "skipped"
)

// Outcome reports the result of dispatching one Action. Terminal marks
// failures that exhausted local recovery or were never retryable.
type Outcome struct {
	ActionID      string                 `json:"action_id"`
	CorrelationID string                 `json:"correlation_id"`
	Status        OutcomeStatus          `json:"status"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Terminal      bool                   `json:"terminal"`
	Attempts      int                    `json:"attempts"`
	CompletedAt   time.Time              `json:"completed_at"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess || o.Status == OutcomeSkipped
}
