package domain

import (
	"fmt"
	"time"
)

type ExecutionMode string

const (
	ModeSequential    ExecutionMode = "sequential"
	ModeParallel      ExecutionMode = "parallel"
	ModePipeline      ExecutionMode = "pipeline"
	ModeScatterGather ExecutionMode = "scatter_gather"
)

type RecoveryStrategy string

const (
	RecoveryRetry RecoveryStrategy = "retry"
	RecoverySkip  RecoveryStrategy = "skip"
	RecoveryAbort RecoveryStrategy = "abort"
)

type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusAborted   WorkflowStatus = "aborted"
)

// StepDefinition names the unit a step dispatches to and the resource its
// lease fences. An empty Resource defaults to the step name.
type StepDefinition struct {
	Name     string                 `json:"name" yaml:"name"`
	Unit     string                 `json:"unit" yaml:"unit"`
	Resource string                 `json:"resource,omitempty" yaml:"resource,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// WorkflowDefinition is immutable once an execution starts: a running
// workflow is always evaluated against the snapshot it was started with.
type WorkflowDefinition struct {
	Name           string           `json:"name" yaml:"name"`
	Mode           ExecutionMode    `json:"mode" yaml:"mode"`
	Recovery       RecoveryStrategy `json:"recovery" yaml:"recovery"`
	MaxRetries     int              `json:"max_retries" yaml:"max_retries"`
	RetryBackoffMS int              `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	// Quorum applies to scatter_gather only: 0 means all scattered steps
	// must succeed before the join runs.
	Quorum int              `json:"quorum,omitempty" yaml:"quorum,omitempty"`
	Steps  []StepDefinition `json:"steps" yaml:"steps"`
}

func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return NewValidationError("workflow", "name cannot be empty")
	}
	switch d.Mode {
	case ModeSequential, ModeParallel, ModePipeline, ModeScatterGather:
	default:
		return NewValidationError("workflow", fmt.Sprintf("unknown execution mode: %q", d.Mode))
	}
	switch d.Recovery {
	case RecoveryRetry, RecoverySkip, RecoveryAbort:
	default:
		return NewValidationError("workflow", fmt.Sprintf("unknown recovery strategy: %q", d.Recovery))
	}
	if len(d.Steps) == 0 {
		return NewValidationError("workflow", "at least one step is required")
	}
	if d.Mode == ModeScatterGather && len(d.Steps) < 2 {
		return NewValidationError("workflow", "scatter_gather requires at least one scattered step and a join step")
	}
	if d.Quorum < 0 || (d.Mode == ModeScatterGather && d.Quorum > len(d.Steps)-1) {
		return NewValidationError("workflow", fmt.Sprintf("quorum %d out of range for %d scattered steps", d.Quorum, len(d.Steps)-1))
	}
	names := make(map[string]struct{}, len(d.Steps))
	for _, s := range d.Steps {
		if s.Name == "" {
			return NewValidationError("workflow", "step name cannot be empty")
		}
		if s.Unit == "" {
			return NewValidationError("workflow", fmt.Sprintf("step %q has no unit", s.Name))
		}
		if _, dup := names[s.Name]; dup {
			return NewValidationError("workflow", fmt.Sprintf("duplicate step name %q", s.Name))
		}
		names[s.Name] = struct{}{}
	}
	return nil
}

// StepResult is the recorded terminal outcome of one workflow step. Warning
// carries the original failure when the skip strategy let the workflow
// progress past it.
type StepResult struct {
	Step      string        `json:"step"`
	Outcome   Outcome       `json:"outcome"`
	Warning   string        `json:"warning,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// WorkflowRecord is the persisted state of one workflow execution.
type WorkflowRecord struct {
	ExecutionID   string             `json:"execution_id"`
	Definition    WorkflowDefinition `json:"definition"`
	Status        WorkflowStatus     `json:"status"`
	CorrelationID string             `json:"correlation_id"`
	Steps         []StepResult       `json:"steps,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

// AggregateStatus takes the worst status among constituent step outcomes:
// any terminal failure makes the aggregate failed unless the recovery
// strategy recorded it as a skip warning.
func AggregateStatus(results []StepResult) WorkflowStatus {
	status := WorkflowStatusCompleted
	for _, r := range results {
		if r.Outcome.Status == OutcomeSkipped {
			continue
		}
		if !r.Outcome.Succeeded() {
			return WorkflowStatusFailed
		}
	}
	return status
}
