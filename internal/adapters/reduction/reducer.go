package reduction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/adapters/fsm"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
	"github.com/raybeam/relay/internal/xjson"
)

// Reducer wraps an FSM engine with persisted state. The ordering invariant
// that makes it crash-safe: the target state is persisted only after the
// transition's action completes successfully. A crash between intent
// emission and action success leaves the old state in place, so a redelivered
// trigger is re-evaluated against unchanged state.
type Reducer struct {
	engine     *fsm.Engine
	store      ports.StoragePort
	leases     ports.LeaseManagerPort
	dispatcher ports.DispatcherPort
	bus        ports.EventBusPort
	logger     *slog.Logger
	nodeID     string

	leaseCfg domain.LeaseConfig
	policy   ports.DispatchPolicy

	// mu serializes triggers per reducer: within a single FSM, transitions
	// are strictly ordered against the persisted state.
	mu sync.Mutex
}

// TransitionOutcome reports one trigger's full journey: the intent (when a
// transition matched), the action outcome (when actions were dispatched), and
// the state the reducer settled on.
type TransitionOutcome struct {
	Matched  bool
	Intent   *domain.Intent
	Outcomes []domain.Outcome
	State    string
}

func NewReducer(
	engine *fsm.Engine,
	store ports.StoragePort,
	leases ports.LeaseManagerPort,
	dispatcher ports.DispatcherPort,
	bus ports.EventBusPort,
	nodeID string,
	leaseCfg domain.LeaseConfig,
	policy ports.DispatchPolicy,
	logger *slog.Logger,
) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reducer{
		engine:     engine,
		store:      store,
		leases:     leases,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With("component", "reducer", "table", engine.Table().Name),
		nodeID:     nodeID,
		leaseCfg:   leaseCfg,
		policy:     policy,
	}
}

func (r *Reducer) Name() string {
	return r.engine.Table().Name
}

// State reads the persisted current state, falling back to the table's
// initial state when nothing was persisted yet.
func (r *Reducer) State() (string, error) {
	state, _, err := r.loadState()
	return state, err
}

// Trigger evaluates one trigger against the persisted state. A NoMatch
// leaves state untouched and is reported, not failed; the caller decides
// whether that is an error.
func (r *Reducer) Trigger(ctx context.Context, trigger string, triggerCtx map[string]interface{}) (*TransitionOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, version, err := r.loadState()
	if err != nil {
		return nil, err
	}

	intent, matched := r.engine.Evaluate(current, trigger, triggerCtx)
	if !matched {
		return &TransitionOutcome{Matched: false, State: current}, nil
	}

	r.logger.Debug("transition matched",
		"from", intent.FromState,
		"to", intent.TargetState,
		"trigger", trigger,
		"actions", len(intent.Actions),
	)

	outcome := &TransitionOutcome{Matched: true, Intent: intent, State: current}

	if len(intent.Actions) > 0 {
		outcomes, err := r.dispatchIntent(ctx, intent)
		outcome.Outcomes = outcomes
		if err != nil {
			// The action did not succeed, so the state must not advance.
			return outcome, err
		}
	}

	if err := r.persistState(intent.TargetState, version); err != nil {
		return outcome, err
	}
	outcome.State = intent.TargetState

	r.publishTransition(intent)
	return outcome, nil
}

// dispatchIntent converts the intent into lease-fenced actions, one per
// declared transition action, and dispatches them in order. The first
// failure stops the sequence.
func (r *Reducer) dispatchIntent(ctx context.Context, intent *domain.Intent) ([]domain.Outcome, error) {
	resource := "reducer/" + r.Name()

	acquireCtx, cancel := context.WithTimeout(ctx, r.leaseCfg.AcquireTimeout)
	lease, err := r.leases.Acquire(acquireCtx, resource, r.nodeID, r.leaseCfg.DefaultTTL)
	cancel()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.leases.Release(lease.LeaseID, lease.Epoch); err != nil {
			r.logger.Warn("lease release failed", "resource_id", resource, "error", err.Error())
		}
	}()

	correlationID := uuid.New().String()
	if cid, ok := intent.Payload["correlation_id"].(string); ok && cid != "" {
		correlationID = cid
	}

	outcomes := make([]domain.Outcome, 0, len(intent.Actions))
	for _, actionType := range intent.Actions {
		action := domain.Action{
			ActionID:      uuid.New().String(),
			Type:          actionType,
			ResourceID:    resource,
			Payload:       intent.Payload,
			LeaseID:       lease.LeaseID,
			Epoch:         lease.Epoch,
			CorrelationID: correlationID,
			CreatedAt:     time.Now().UTC(),
		}

		result := r.dispatcher.Dispatch(ctx, action, r.policy)
		outcomes = append(outcomes, result)
		if !result.Succeeded() {
			return outcomes, domain.NewTerminalError(
				"transition action failed: "+result.Error, nil).
				WithCorrelation(correlationID).
				WithStep(actionType)
		}
	}
	return outcomes, nil
}

func (r *Reducer) loadState() (string, int64, error) {
	key := domain.ReducerStateKey(r.Name())
	value, version, exists, err := r.store.Get(key)
	if err != nil {
		return "", 0, err
	}
	if !exists {
		return r.engine.InitialState(), 0, nil
	}

	var state string
	if err := xjson.Unmarshal(value, &state); err != nil {
		return "", 0, domain.NewStorageError("decode", key, err)
	}
	return state, version, nil
}

func (r *Reducer) persistState(state string, version int64) error {
	key := domain.ReducerStateKey(r.Name())
	payload, err := xjson.Marshal(state)
	if err != nil {
		return domain.NewStorageError("encode", key, err)
	}
	return r.store.Put(key, payload, version+1)
}

func (r *Reducer) publishTransition(intent *domain.Intent) {
	if r.bus == nil {
		return
	}

	r.bus.Publish(domain.Envelope{
		EnvelopeID:    uuid.New().String(),
		CorrelationID: intent.IntentID,
		SourceNode:    r.nodeID,
		Operation:     domain.OpStateTransition,
		Payload: map[string]interface{}{
			"reducer": r.Name(),
			"from":    intent.FromState,
			"to":      intent.TargetState,
			"trigger": intent.Trigger,
		},
		Success:   true,
		EmittedAt: time.Now().UTC(),
	})
}
