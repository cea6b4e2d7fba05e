package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raybeam/relay/internal/adapters/circuit_breaker"
	"github.com/raybeam/relay/internal/adapters/dispatch"
	"github.com/raybeam/relay/internal/adapters/registry"
	"github.com/raybeam/relay/internal/adapters/storage"
	"github.com/raybeam/relay/internal/domain"
)

// scriptedUnit records invocations and returns a scripted result or error.
type scriptedUnit struct {
	name   string
	result map[string]interface{}
	err    error
	delay  time.Duration

	mu       sync.Mutex
	calls    int
	payloads []map[string]interface{}
}

func (u *scriptedUnit) Name() string { return u.name }

func (u *scriptedUnit) Execute(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	if u.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(u.delay):
		}
	}

	u.mu.Lock()
	u.calls++
	u.payloads = append(u.payloads, payload)
	u.mu.Unlock()

	if u.err != nil {
		return nil, u.err
	}
	return u.result, nil
}

func (u *scriptedUnit) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func (u *scriptedUnit) seenPayloads() []map[string]interface{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]map[string]interface{}, len(u.payloads))
	copy(out, u.payloads)
	return out
}

type orchestratorFixture struct {
	store        *storage.MemoryStore
	leases       *storage.LeaseManager
	units        *registry.UnitRegistry
	orchestrator *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	return newOrchestratorFixtureWithLease(t, domain.LeaseConfig{
		DefaultTTL:     time.Minute,
		AcquireTimeout: time.Second,
		RenewFraction:  0.5,
	})
}

func newOrchestratorFixtureWithLease(t *testing.T, leaseCfg domain.LeaseConfig) *orchestratorFixture {
	t.Helper()

	store := storage.NewMemoryStore(nil)
	leases := storage.NewLeaseManager(store, 0, nil)
	units := registry.NewUnitRegistry(nil)
	breakers := circuit_breaker.NewProvider(domain.CircuitBreakerConfig{FailureThreshold: 100}, nil)
	dispatcher := dispatch.NewDispatcher(leases, units, breakers, nil, "node-1", false, nil)

	retryCfg := domain.RetryConfig{
		Kind:         domain.BackoffFixed,
		InitialDelay: time.Millisecond,
		MaxRetries:   2,
	}

	return &orchestratorFixture{
		store:        store,
		leases:       leases,
		units:        units,
		orchestrator: NewOrchestrator(store, leases, dispatcher, nil, "node-1", leaseCfg, retryCfg, nil),
	}
}

func definition(mode domain.ExecutionMode, recovery domain.RecoveryStrategy, steps ...domain.StepDefinition) domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		Name:     "test-flow",
		Mode:     mode,
		Recovery: recovery,
		Steps:    steps,
	}
}

func TestSequentialCompletes(t *testing.T) {
	f := newOrchestratorFixture(t)

	fetch := &scriptedUnit{name: "fetch", result: map[string]interface{}{"fetched": true}}
	store := &scriptedUnit{name: "store", result: map[string]interface{}{"stored": true}}
	require.NoError(t, f.units.RegisterEffect(fetch))
	require.NoError(t, f.units.RegisterEffect(store))

	def := definition(domain.ModeSequential, domain.RecoveryRetry,
		domain.StepDefinition{Name: "fetch", Unit: "fetch"},
		domain.StepDefinition{Name: "store", Unit: "store"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, map[string]interface{}{"url": "u"}, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	assert.Equal(t, "corr-1", record.CorrelationID)
	require.Len(t, record.Steps, 2)
	require.NotNil(t, record.CompletedAt)

	// Upstream results flow into downstream payloads.
	payloads := store.seenPayloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, "u", payloads[0]["url"])
	assert.Equal(t, true, payloads[0]["fetched"])
}

func TestSequentialAbortStopsRemainingSteps(t *testing.T) {
	f := newOrchestratorFixture(t)

	first := &scriptedUnit{name: "first"}
	second := &scriptedUnit{name: "second", err: domain.NewTerminalError("downstream rejected", nil)}
	third := &scriptedUnit{name: "third"}
	require.NoError(t, f.units.RegisterEffect(first))
	require.NoError(t, f.units.RegisterEffect(second))
	require.NoError(t, f.units.RegisterEffect(third))

	def := definition(domain.ModeSequential, domain.RecoveryAbort,
		domain.StepDefinition{Name: "one", Unit: "first"},
		domain.StepDefinition{Name: "two", Unit: "second"},
		domain.StepDefinition{Name: "three", Unit: "third"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
	assert.Len(t, record.Steps, 2)
	assert.Equal(t, 0, third.callCount(), "steps after the failure must never dispatch")
	assert.NotEmpty(t, record.LastError)
}

func TestStepCancelledWhenLeaseLost(t *testing.T) {
	f := newOrchestratorFixtureWithLease(t, domain.LeaseConfig{
		DefaultTTL:     80 * time.Millisecond,
		AcquireTimeout: time.Second,
		RenewFraction:  0.25,
	})

	slow := &scriptedUnit{name: "slow", delay: 5 * time.Second, result: map[string]interface{}{"done": true}}
	require.NoError(t, f.units.RegisterEffect(slow))

	def := definition(domain.ModeSequential, domain.RecoveryRetry,
		domain.StepDefinition{Name: "slow", Unit: "slow", Resource: "feed/1"},
	)

	started := time.Now()
	done := make(chan *domain.WorkflowRecord, 1)
	go func() {
		record, err := f.orchestrator.Execute(context.Background(), def, nil, "corr-1")
		require.NoError(t, err)
		done <- record
	}()

	// Pull the lease out from under the running step.
	deadline := time.Now().Add(time.Second)
	for {
		active, err := f.leases.ActiveLeases()
		require.NoError(t, err)
		released := false
		for _, l := range active {
			if l.ResourceID == "feed/1" {
				require.NoError(t, f.leases.Release(l.LeaseID, l.Epoch))
				released = true
			}
		}
		if released {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("step never acquired its lease")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case record := <-done:
		assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
		assert.Equal(t, 0, slow.callCount(), "cancelled unit must not complete")
		assert.Less(t, time.Since(started), 2*time.Second,
			"dispatch must be cancelled as soon as the lease is lost")
	case <-time.After(3 * time.Second):
		t.Fatal("workflow still running after lease loss")
	}
}

func TestSequentialSkipCompletesWithWarning(t *testing.T) {
	f := newOrchestratorFixture(t)

	first := &scriptedUnit{name: "first"}
	second := &scriptedUnit{name: "second", err: domain.NewTerminalError("flaky dependency", nil)}
	third := &scriptedUnit{name: "third"}
	require.NoError(t, f.units.RegisterEffect(first))
	require.NoError(t, f.units.RegisterEffect(second))
	require.NoError(t, f.units.RegisterEffect(third))

	def := definition(domain.ModeSequential, domain.RecoverySkip,
		domain.StepDefinition{Name: "one", Unit: "first"},
		domain.StepDefinition{Name: "two", Unit: "second"},
		domain.StepDefinition{Name: "three", Unit: "third"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	require.Len(t, record.Steps, 3)
	assert.Equal(t, domain.OutcomeSkipped, record.Steps[1].Outcome.Status)
	assert.Contains(t, record.Steps[1].Warning, "flaky dependency")
	assert.Equal(t, 1, third.callCount(), "the workflow must progress past a skipped step")
}

func TestSequentialRetriesBeforeFailing(t *testing.T) {
	f := newOrchestratorFixture(t)

	unit := &scriptedUnit{name: "flaky", err: domain.NewTransientError("not ready", nil)}
	require.NoError(t, f.units.RegisterEffect(unit))

	def := definition(domain.ModeSequential, domain.RecoveryRetry,
		domain.StepDefinition{Name: "one", Unit: "flaky"},
	)
	def.MaxRetries = 2

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
	assert.Equal(t, 3, unit.callCount())
	require.Len(t, record.Steps, 1)
	assert.Equal(t, 3, record.Steps[0].Outcome.Attempts)
}

func TestParallelAllSucceed(t *testing.T) {
	f := newOrchestratorFixture(t)

	a := &scriptedUnit{name: "a", result: map[string]interface{}{"a": 1}}
	b := &scriptedUnit{name: "b", result: map[string]interface{}{"b": 2}}
	c := &scriptedUnit{name: "c", result: map[string]interface{}{"c": 3}}
	require.NoError(t, f.units.RegisterEffect(a))
	require.NoError(t, f.units.RegisterEffect(b))
	require.NoError(t, f.units.RegisterEffect(c))

	def := definition(domain.ModeParallel, domain.RecoveryRetry,
		domain.StepDefinition{Name: "a", Unit: "a"},
		domain.StepDefinition{Name: "b", Unit: "b"},
		domain.StepDefinition{Name: "c", Unit: "c"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	assert.Len(t, record.Steps, 3)
}

func TestParallelOneFailureFailsWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)

	good := &scriptedUnit{name: "good"}
	bad := &scriptedUnit{name: "bad", err: domain.NewTerminalError("broken", nil)}
	require.NoError(t, f.units.RegisterEffect(good))
	require.NoError(t, f.units.RegisterEffect(bad))

	def := definition(domain.ModeParallel, domain.RecoveryAbort,
		domain.StepDefinition{Name: "g1", Unit: "good"},
		domain.StepDefinition{Name: "b1", Unit: "bad"},
		domain.StepDefinition{Name: "g2", Unit: "good", Resource: "good/2"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
	// Parallel siblings are not gated on each other; all three dispatched.
	assert.Len(t, record.Steps, 3)
}

func TestPipelineStreamsItems(t *testing.T) {
	f := newOrchestratorFixture(t)

	stageA := &scriptedUnit{name: "stage-a", result: map[string]interface{}{"a_done": true}}
	stageB := &scriptedUnit{name: "stage-b", result: map[string]interface{}{"b_done": true}}
	require.NoError(t, f.units.RegisterEffect(stageA))
	require.NoError(t, f.units.RegisterEffect(stageB))

	def := definition(domain.ModePipeline, domain.RecoveryRetry,
		domain.StepDefinition{Name: "a", Unit: "stage-a"},
		domain.StepDefinition{Name: "b", Unit: "stage-b"},
	)

	payload := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "1"},
			map[string]interface{}{"id": "2"},
			map[string]interface{}{"id": "3"},
		},
	}

	record, err := f.orchestrator.Execute(context.Background(), def, payload, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	// Each stage processes every item.
	assert.Equal(t, 3, stageA.callCount())
	assert.Equal(t, 3, stageB.callCount())

	// Downstream stages see upstream results merged into each item.
	for _, p := range stageB.seenPayloads() {
		assert.Equal(t, true, p["a_done"])
	}
}

func TestPipelineSinglePayloadWithoutItems(t *testing.T) {
	f := newOrchestratorFixture(t)

	stage := &scriptedUnit{name: "stage"}
	require.NoError(t, f.units.RegisterEffect(stage))

	def := definition(domain.ModePipeline, domain.RecoveryRetry,
		domain.StepDefinition{Name: "only", Unit: "stage"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, map[string]interface{}{"id": "1"}, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	assert.Equal(t, 1, stage.callCount())
}

func TestPipelineFailureStopsStream(t *testing.T) {
	f := newOrchestratorFixture(t)

	bad := &scriptedUnit{name: "bad", err: domain.NewTerminalError("stage broken", nil)}
	next := &scriptedUnit{name: "next"}
	require.NoError(t, f.units.RegisterEffect(bad))
	require.NoError(t, f.units.RegisterEffect(next))

	def := definition(domain.ModePipeline, domain.RecoveryAbort,
		domain.StepDefinition{Name: "a", Unit: "bad"},
		domain.StepDefinition{Name: "b", Unit: "next"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, map[string]interface{}{"id": "1"}, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
	assert.Equal(t, 0, next.callCount())
}

func TestScatterGatherAllRequired(t *testing.T) {
	f := newOrchestratorFixture(t)

	s1 := &scriptedUnit{name: "s1", result: map[string]interface{}{"r1": 1}}
	s2 := &scriptedUnit{name: "s2", result: map[string]interface{}{"r2": 2}}
	join := &scriptedUnit{name: "join"}
	require.NoError(t, f.units.RegisterEffect(s1))
	require.NoError(t, f.units.RegisterEffect(s2))
	require.NoError(t, f.units.RegisterEffect(join))

	def := definition(domain.ModeScatterGather, domain.RecoveryRetry,
		domain.StepDefinition{Name: "s1", Unit: "s1"},
		domain.StepDefinition{Name: "s2", Unit: "s2"},
		domain.StepDefinition{Name: "join", Unit: "join"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, map[string]interface{}{"base": true}, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	require.Equal(t, 1, join.callCount())

	// The join sees the merged scatter results over the base payload.
	merged := join.seenPayloads()[0]
	assert.Equal(t, true, merged["base"])
	assert.Equal(t, 1, merged["r1"])
	assert.Equal(t, 2, merged["r2"])
}

func TestScatterGatherQuorum(t *testing.T) {
	f := newOrchestratorFixture(t)

	fast := &scriptedUnit{name: "fast", result: map[string]interface{}{"fast": true}}
	slow := &scriptedUnit{name: "slow", delay: 200 * time.Millisecond, result: map[string]interface{}{"slow": true}}
	join := &scriptedUnit{name: "join"}
	require.NoError(t, f.units.RegisterEffect(fast))
	require.NoError(t, f.units.RegisterEffect(slow))
	require.NoError(t, f.units.RegisterEffect(join))

	def := definition(domain.ModeScatterGather, domain.RecoveryRetry,
		domain.StepDefinition{Name: "fast", Unit: "fast"},
		domain.StepDefinition{Name: "slow", Unit: "slow"},
		domain.StepDefinition{Name: "join", Unit: "join"},
	)
	def.Quorum = 1

	started := time.Now()
	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
	assert.Equal(t, 1, join.callCount())
	// The join must not have waited for the slow straggler.
	assert.Less(t, time.Since(started), 150*time.Millisecond)
}

func TestScatterGatherFailsBelowQuorum(t *testing.T) {
	f := newOrchestratorFixture(t)

	bad := &scriptedUnit{name: "bad", err: domain.NewTerminalError("unavailable", nil)}
	join := &scriptedUnit{name: "join"}
	require.NoError(t, f.units.RegisterEffect(bad))
	require.NoError(t, f.units.RegisterEffect(join))

	def := definition(domain.ModeScatterGather, domain.RecoveryAbort,
		domain.StepDefinition{Name: "b1", Unit: "bad"},
		domain.StepDefinition{Name: "b2", Unit: "bad", Resource: "bad/2"},
		domain.StepDefinition{Name: "join", Unit: "join"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusFailed, record.Status)
	assert.Equal(t, 0, join.callCount(), "the join must not run without quorum")
}

func TestOrchestratorRejectsInvalidDefinition(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.Execute(context.Background(), domain.WorkflowDefinition{Name: "bad"}, nil, "")
	require.Error(t, err)
}

func TestOrchestratorPersistsRecord(t *testing.T) {
	f := newOrchestratorFixture(t)

	unit := &scriptedUnit{name: "worker"}
	require.NoError(t, f.units.RegisterEffect(unit))

	def := definition(domain.ModeSequential, domain.RecoveryRetry,
		domain.StepDefinition{Name: "one", Unit: "worker"},
	)

	record, err := f.orchestrator.Execute(context.Background(), def, nil, "")
	require.NoError(t, err)

	persisted, exists, err := f.orchestrator.Status(record.ExecutionID)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, domain.WorkflowStatusCompleted, persisted.Status)
	assert.Len(t, persisted.Steps, 1)

	records, err := f.orchestrator.Records()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestOrchestratorStartIsAsync(t *testing.T) {
	f := newOrchestratorFixture(t)

	unit := &scriptedUnit{name: "worker", delay: 30 * time.Millisecond}
	require.NoError(t, f.units.RegisterEffect(unit))

	def := definition(domain.ModeSequential, domain.RecoveryRetry,
		domain.StepDefinition{Name: "one", Unit: "worker"},
	)

	executionID, err := f.orchestrator.Start(context.Background(), def, nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	f.orchestrator.Drain()

	record, exists, err := f.orchestrator.Status(executionID)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)

	// After draining no new work is accepted.
	_, err = f.orchestrator.Start(context.Background(), def, nil, "")
	require.ErrorIs(t, err, domain.ErrNotStarted)
}

func TestDefinitionSnapshotIsolation(t *testing.T) {
	f := newOrchestratorFixture(t)

	unit := &scriptedUnit{name: "worker", delay: 20 * time.Millisecond}
	require.NoError(t, f.units.RegisterEffect(unit))

	def := definition(domain.ModeSequential, domain.RecoveryRetry,
		domain.StepDefinition{Name: "one", Unit: "worker", Payload: map[string]interface{}{"v": 1}},
	)

	executionID, err := f.orchestrator.Start(context.Background(), def, nil, "")
	require.NoError(t, err)

	// Mutating the source definition mid-flight must not affect the run.
	def.Steps[0].Unit = "ghost"
	def.Steps[0].Payload["v"] = 2

	f.orchestrator.Drain()

	record, _, err := f.orchestrator.Status(executionID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusCompleted, record.Status)
}
