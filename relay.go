// Package relay provides a coordination layer for node-execution runtimes.
//
// Relay composes a transition-table driven state machine engine with leased,
// fenced action dispatch. It provides:
//   - Declarative FSM reducers whose state only persists after actions succeed
//   - Lease-based resource ownership with epoch fencing of stale holders
//   - Retry with configurable backoff and per-resource circuit breakers
//   - Workflow orchestration in sequential, parallel, pipeline, and
//     scatter/gather modes
//   - Fire-and-forget event propagation with correlation tracking
//
// Basic usage:
//
//	rt := relay.New(nil)
//	rt.RegisterEffect(myEffect{})
//	rt.Start(context.Background())
//
//	rt.RegisterWorkflow(relay.WorkflowDefinition{
//	    Name: "ingest",
//	    Mode: relay.ModeSequential,
//	    Steps: []relay.StepDefinition{
//	        {Name: "fetch", Unit: "fetcher", Resource: "feed/1"},
//	        {Name: "store", Unit: "writer", Resource: "db/main"},
//	    },
//	})
//	id, _ := rt.StartWorkflow(ctx, "ingest", map[string]interface{}{"url": u}, "")
package relay

import (
	"log/slog"

	"github.com/raybeam/relay/internal/adapters/definition"
	"github.com/raybeam/relay/internal/adapters/health"
	"github.com/raybeam/relay/internal/adapters/reduction"
	"github.com/raybeam/relay/internal/adapters/storage"
	"github.com/raybeam/relay/internal/core"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// Runtime is the assembled coordination layer: reducers, workflows, leases,
// breakers, and the event bus behind one lifecycle.
type Runtime = core.Runtime

// Config holds runtime configuration. Zero values are filled from defaults.
type Config = domain.Config

// LeaseConfig tunes lease TTLs, acquisition, and auto-renewal.
type LeaseConfig = domain.LeaseConfig

// RetryConfig selects the backoff curve and retry budget for dispatch.
type RetryConfig = domain.RetryConfig

// CircuitBreakerConfig tunes per-resource failure isolation.
type CircuitBreakerConfig = domain.CircuitBreakerConfig

// TransitionTable declares a reducer's states, triggers, and actions.
type TransitionTable = domain.TransitionTable

// Transition is one row of a transition table.
type Transition = domain.Transition

// GuardFunc is a predicate evaluated against the trigger context before a
// guarded transition is taken.
type GuardFunc = domain.GuardFunc

// Intent is the pure output of evaluating a trigger: the target state plus
// the actions required before that state may persist.
type Intent = domain.Intent

// WorkflowDefinition declares a named multi-step execution.
type WorkflowDefinition = domain.WorkflowDefinition

// StepDefinition is one step of a workflow: the unit to invoke and the
// resource whose lease guards the invocation.
type StepDefinition = domain.StepDefinition

// WorkflowRecord is the persisted status of one workflow execution.
type WorkflowRecord = domain.WorkflowRecord

// StepResult reports one step's outcome within a workflow record.
type StepResult = domain.StepResult

// Action is a fenced unit invocation handed to the dispatcher.
type Action = domain.Action

// Outcome reports the result of dispatching one action.
type Outcome = domain.Outcome

// Envelope is the correlation-tracked event published on the bus.
type Envelope = domain.Envelope

// Lease is a time-bounded, epoch-fenced claim on a resource.
type Lease = domain.Lease

// EffectUnit performs side effects against external systems.
type EffectUnit = ports.EffectUnit

// ComputeUnit performs pure payload transformation.
type ComputeUnit = ports.ComputeUnit

// EventPredicate filters envelopes for a subscriber.
type EventPredicate = ports.EventPredicate

// EventHandler consumes envelopes matched by a subscriber's predicate.
type EventHandler = ports.EventHandler

// TransitionOutcome reports one trigger's journey through a reducer.
type TransitionOutcome = reduction.TransitionOutcome

// HealthSnapshot is a point-in-time view of runtime health.
type HealthSnapshot = health.Snapshot

// Document is a parsed definition file: workflows plus reducer tables.
type Document = definition.Document

// Workflow execution modes.
const (
	ModeSequential    = domain.ModeSequential
	ModeParallel      = domain.ModeParallel
	ModePipeline      = domain.ModePipeline
	ModeScatterGather = domain.ModeScatterGather
)

// Recovery strategies applied when a step's action fails.
const (
	RecoveryRetry = domain.RecoveryRetry
	RecoverySkip  = domain.RecoverySkip
	RecoveryAbort = domain.RecoveryAbort
)

// Workflow statuses.
const (
	StatusPending   = domain.WorkflowStatusPending
	StatusRunning   = domain.WorkflowStatusRunning
	StatusCompleted = domain.WorkflowStatusCompleted
	StatusFailed    = domain.WorkflowStatusFailed
	StatusAborted   = domain.WorkflowStatusAborted
)

// Backoff curves for RetryConfig.Kind.
const (
	BackoffFixed       = domain.BackoffFixed
	BackoffLinear      = domain.BackoffLinear
	BackoffExponential = domain.BackoffExponential
	BackoffRandom      = domain.BackoffRandom
	BackoffFibonacci   = domain.BackoffFibonacci
)

// Sentinel errors surfaced by runtime operations.
var (
	ErrFenced      = domain.ErrFenced
	ErrCircuitOpen = domain.ErrCircuitOpen
	ErrNoMatch     = domain.ErrNoMatch
	ErrNotFound    = domain.ErrNotFound
)

// New creates a runtime backed by in-memory storage. Pass nil for defaults.
func New(config *Config) *Runtime {
	return core.New(config, nil)
}

// NewDurable creates a runtime backed by badger at config.DataDir. Lease
// records and reducer state survive process restarts.
func NewDurable(config *Config) (*Runtime, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	config.ApplyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewBadgerStore(config.DataDir, logger)
	if err != nil {
		return nil, err
	}
	return core.New(config, store), nil
}

// LoadDefinitions parses a definition file and registers every workflow and
// reducer it declares.
func LoadDefinitions(rt *Runtime, path string) error {
	doc, err := definition.LoadFile(path)
	if err != nil {
		return err
	}
	for _, wf := range doc.Workflows {
		if err := rt.RegisterWorkflow(wf); err != nil {
			return err
		}
	}
	for _, table := range doc.Reducers {
		if err := rt.RegisterReducer(table); err != nil {
			return err
		}
	}
	return nil
}
