package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/adapters/storage"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
	"github.com/raybeam/relay/internal/xjson"
)

// Orchestrator coordinates workflow executions: it expands a definition into
// an immutable execution graph, acquires one lease per step resource, emits
// fenced actions in the configured execution mode, and tracks per-step
// completion.
type Orchestrator struct {
	store      ports.StoragePort
	leases     ports.LeaseManagerPort
	dispatcher ports.DispatcherPort
	bus        ports.EventBusPort
	renewer    *storage.Renewer
	logger     *slog.Logger
	nodeID     string

	leaseCfg domain.LeaseConfig
	retryCfg domain.RetryConfig

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

func NewOrchestrator(
	store ports.StoragePort,
	leases ports.LeaseManagerPort,
	dispatcher ports.DispatcherPort,
	bus ports.EventBusPort,
	nodeID string,
	leaseCfg domain.LeaseConfig,
	retryCfg domain.RetryConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:      store,
		leases:     leases,
		dispatcher: dispatcher,
		bus:        bus,
		renewer:    storage.NewRenewer(leases, logger),
		logger:     logger.With("component", "orchestrator"),
		nodeID:     nodeID,
		leaseCfg:   leaseCfg,
		retryCfg:   retryCfg,
	}
}

// execution is the in-flight state of one workflow run. The definition is a
// snapshot taken at start; later edits to the source definition never affect
// a running execution.
type execution struct {
	record  domain.WorkflowRecord
	version int64

	mu sync.Mutex
}

// Start launches a workflow asynchronously and returns its execution id.
func (o *Orchestrator) Start(ctx context.Context, def domain.WorkflowDefinition, payload map[string]interface{}, correlationID string) (string, error) {
	exec, err := o.prepare(def, correlationID)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return "", domain.ErrNotStarted
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.run(ctx, exec, payload)
	}()

	return exec.record.ExecutionID, nil
}

// Execute runs a workflow to completion and returns its final record.
func (o *Orchestrator) Execute(ctx context.Context, def domain.WorkflowDefinition, payload map[string]interface{}, correlationID string) (*domain.WorkflowRecord, error) {
	exec, err := o.prepare(def, correlationID)
	if err != nil {
		return nil, err
	}
	o.run(ctx, exec, payload)
	return &exec.record, nil
}

// Drain waits for all in-flight executions to finish.
func (o *Orchestrator) Drain() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.wg.Wait()
}

// Status returns the persisted record for an execution.
func (o *Orchestrator) Status(executionID string) (*domain.WorkflowRecord, bool, error) {
	value, _, exists, err := o.store.Get(domain.WorkflowKey(executionID))
	if err != nil || !exists {
		return nil, false, err
	}

	var record domain.WorkflowRecord
	if err := xjson.Unmarshal(value, &record); err != nil {
		return nil, false, domain.NewStorageError("decode", domain.WorkflowKey(executionID), err)
	}
	return &record, true, nil
}

// Records lists all persisted workflow records.
func (o *Orchestrator) Records() ([]domain.WorkflowRecord, error) {
	entries, err := o.store.ListByPrefix(domain.WorkflowKeyPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]domain.WorkflowRecord, 0, len(entries))
	for _, entry := range entries {
		var record domain.WorkflowRecord
		if err := xjson.Unmarshal(entry.Value, &record); err != nil {
			o.logger.Warn("skipping corrupt workflow record", "key", entry.Key, "error", err.Error())
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (o *Orchestrator) prepare(def domain.WorkflowDefinition, correlationID string) (*execution, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	exec := &execution{
		record: domain.WorkflowRecord{
			ExecutionID:   uuid.New().String(),
			Definition:    snapshotDefinition(def),
			Status:        domain.WorkflowStatusPending,
			CorrelationID: correlationID,
			StartedAt:     time.Now().UTC(),
		},
	}

	if err := o.persist(exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (o *Orchestrator) run(ctx context.Context, exec *execution, payload map[string]interface{}) {
	def := exec.record.Definition

	o.setStatus(exec, domain.WorkflowStatusRunning, "")
	o.publishWorkflowEvent(exec, domain.OpWorkflowStarted, true, "")

	o.logger.Info("workflow started",
		"execution_id", exec.record.ExecutionID,
		"workflow", def.Name,
		"mode", def.Mode,
		"steps", len(def.Steps),
	)

	var status domain.WorkflowStatus
	switch def.Mode {
	case domain.ModeSequential:
		status = o.runSequential(ctx, exec, payload)
	case domain.ModeParallel:
		status = o.runParallel(ctx, exec, payload)
	case domain.ModePipeline:
		status = o.runPipeline(ctx, exec, payload)
	case domain.ModeScatterGather:
		status = o.runScatterGather(ctx, exec, payload)
	default:
		o.setStatus(exec, domain.WorkflowStatusFailed, "unknown execution mode")
		o.publishWorkflowEvent(exec, domain.OpWorkflowFailed, false, "unknown execution mode")
		return
	}

	now := time.Now().UTC()
	exec.mu.Lock()
	exec.record.CompletedAt = &now
	lastError := exec.record.LastError
	exec.mu.Unlock()

	o.setStatus(exec, status, lastError)

	op := domain.OpWorkflowCompleted
	success := true
	switch status {
	case domain.WorkflowStatusFailed:
		op = domain.OpWorkflowFailed
		success = false
	case domain.WorkflowStatusAborted:
		op = domain.OpWorkflowAborted
		success = false
	}
	o.publishWorkflowEvent(exec, op, success, lastError)

	o.logger.Info("workflow finished",
		"execution_id", exec.record.ExecutionID,
		"workflow", def.Name,
		"status", status,
	)
}

// runStep acquires the step's lease, dispatches its action with the
// workflow's recovery policy, and releases the lease on terminal outcome.
func (o *Orchestrator) runStep(ctx context.Context, exec *execution, step domain.StepDefinition, payload map[string]interface{}) domain.StepResult {
	started := time.Now().UTC()
	def := exec.record.Definition

	resource := step.Resource
	if resource == "" {
		resource = step.Name
	}

	acquireCtx, cancel := context.WithTimeout(ctx, o.leaseCfg.AcquireTimeout)
	lease, err := o.leases.Acquire(acquireCtx, resource, o.nodeID, o.leaseCfg.DefaultTTL)
	cancel()
	if err != nil {
		o.logger.Error("lease acquisition failed",
			"execution_id", exec.record.ExecutionID,
			"step", step.Name,
			"resource_id", resource,
			"error", err.Error(),
		)
		return domain.StepResult{
			Step: step.Name,
			Outcome: domain.Outcome{
				CorrelationID: exec.record.CorrelationID,
				Status:        domain.OutcomeFailed,
				Error:         err.Error(),
				Terminal:      true,
				CompletedAt:   time.Now().UTC(),
			},
			StartedAt: started,
			Duration:  time.Since(started),
		}
	}

	renewCtx, stopRenewal := context.WithCancel(ctx)
	lost := o.renewer.KeepAlive(renewCtx, lease, o.leaseCfg.RenewFraction)

	// A lease lost mid-flight cancels the dispatch immediately instead of
	// waiting for the next per-attempt fencing check.
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	go func() {
		select {
		case <-lost:
			o.logger.Warn("lease lost mid-step, cancelling dispatch",
				"resource_id", lease.ResourceID,
				"epoch", lease.Epoch,
			)
			cancelDispatch()
		case <-dispatchCtx.Done():
		}
	}()

	action := domain.Action{
		ActionID:      uuid.New().String(),
		Type:          step.Unit,
		ResourceID:    resource,
		Payload:       mergePayload(step.Payload, payload),
		LeaseID:       lease.LeaseID,
		Epoch:         lease.Epoch,
		CorrelationID: exec.record.CorrelationID,
		CreatedAt:     time.Now().UTC(),
	}

	outcome := o.dispatcher.Dispatch(dispatchCtx, action, o.policy(def))

	cancelDispatch()
	stopRenewal()
	if err := o.leases.Release(lease.LeaseID, lease.Epoch); err != nil {
		o.logger.Warn("lease release failed",
			"resource_id", resource,
			"epoch", lease.Epoch,
			"error", err.Error(),
		)
	}

	result := domain.StepResult{
		Step:      step.Name,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if outcome.Status == domain.OutcomeSkipped {
		result.Warning = outcome.Error
	}

	o.recordStep(exec, result)
	return result
}

func (o *Orchestrator) policy(def domain.WorkflowDefinition) ports.DispatchPolicy {
	backoff := o.retryCfg
	if def.RetryBackoffMS > 0 {
		backoff.InitialDelay = time.Duration(def.RetryBackoffMS) * time.Millisecond
	}
	maxRetries := def.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.retryCfg.MaxRetries
	}
	return ports.DispatchPolicy{
		Recovery:   def.Recovery,
		MaxRetries: maxRetries,
		Backoff:    backoff,
	}
}

func (o *Orchestrator) recordStep(exec *execution, result domain.StepResult) {
	exec.mu.Lock()
	exec.record.Steps = append(exec.record.Steps, result)
	if !result.Outcome.Succeeded() {
		exec.record.LastError = result.Outcome.Error
	}
	exec.mu.Unlock()

	if err := o.persist(exec); err != nil {
		o.logger.Error("failed to persist step result",
			"execution_id", exec.record.ExecutionID,
			"step", result.Step,
			"error", err.Error(),
		)
	}

	if o.bus != nil {
		o.bus.Publish(domain.Envelope{
			EnvelopeID:    uuid.New().String(),
			CorrelationID: exec.record.CorrelationID,
			CausationID:   result.Outcome.ActionID,
			SourceNode:    o.nodeID,
			Operation:     domain.OpStepCompleted,
			Payload: map[string]interface{}{
				"execution_id": exec.record.ExecutionID,
				"step":         result.Step,
				"status":       string(result.Outcome.Status),
			},
			Success:   result.Outcome.Succeeded(),
			Error:     result.Outcome.Error,
			EmittedAt: time.Now().UTC(),
		})
	}
}

func (o *Orchestrator) setStatus(exec *execution, status domain.WorkflowStatus, lastError string) {
	exec.mu.Lock()
	exec.record.Status = status
	if lastError != "" {
		exec.record.LastError = lastError
	}
	exec.mu.Unlock()

	if err := o.persist(exec); err != nil {
		o.logger.Error("failed to persist workflow status",
			"execution_id", exec.record.ExecutionID,
			"status", status,
			"error", err.Error(),
		)
	}
}

func (o *Orchestrator) persist(exec *execution) error {
	exec.mu.Lock()
	payload, err := xjson.Marshal(&exec.record)
	key := domain.WorkflowKey(exec.record.ExecutionID)
	version := exec.version + 1
	exec.mu.Unlock()

	if err != nil {
		return domain.NewStorageError("encode", key, err)
	}
	if err := o.store.Put(key, payload, version); err != nil {
		return err
	}

	exec.mu.Lock()
	exec.version = version
	exec.mu.Unlock()
	return nil
}

func (o *Orchestrator) publishWorkflowEvent(exec *execution, operation string, success bool, errMsg string) {
	if o.bus == nil {
		return
	}

	o.bus.Publish(domain.Envelope{
		EnvelopeID:    uuid.New().String(),
		CorrelationID: exec.record.CorrelationID,
		SourceNode:    o.nodeID,
		Operation:     operation,
		Payload: map[string]interface{}{
			"execution_id": exec.record.ExecutionID,
			"workflow":     exec.record.Definition.Name,
			"status":       string(exec.record.Status),
		},
		Success:   success,
		Error:     errMsg,
		EmittedAt: time.Now().UTC(),
	})
}

func snapshotDefinition(def domain.WorkflowDefinition) domain.WorkflowDefinition {
	snapshot := def
	snapshot.Steps = make([]domain.StepDefinition, len(def.Steps))
	copy(snapshot.Steps, def.Steps)
	for i := range snapshot.Steps {
		snapshot.Steps[i].Payload = clonePayload(def.Steps[i].Payload)
	}
	return snapshot
}

func clonePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	cloned := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		cloned[k] = v
	}
	return cloned
}
