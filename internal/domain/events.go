package domain

import "time"

// Operation names carried on envelopes published by the core.
const (
	OpWorkflowStarted     = "workflow.started"
	OpWorkflowCompleted   = "workflow.completed"
	OpWorkflowFailed      = "workflow.failed"
	OpWorkflowAborted     = "workflow.aborted"
	OpStepCompleted       = "step.completed"
	OpActionCompleted     = "action.completed"
	OpStateTransition     = "state.transition"
	OpCircuitStateChanged = "circuit.state_changed"
)

// Envelope is the correlation-tracked message shape exchanged with external
// collaborators. Publish is fire-and-forget from the core's perspective; the
// core never blocks on subscriber processing.
type Envelope struct {
	EnvelopeID    string                 `json:"envelope_id"`
	CorrelationID string                 `json:"correlation_id"`
	CausationID   string                 `json:"causation_id,omitempty"`
	SourceNode    string                 `json:"source_node"`
	TargetNode    string                 `json:"target_node,omitempty"`
	Operation     string                 `json:"operation"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	IsResponse    bool                   `json:"is_response"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	EmittedAt     time.Time              `json:"emitted_at"`
}
