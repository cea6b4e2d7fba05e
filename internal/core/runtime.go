package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raybeam/relay/internal/adapters/circuit_breaker"
	"github.com/raybeam/relay/internal/adapters/dispatch"
	"github.com/raybeam/relay/internal/adapters/engine"
	"github.com/raybeam/relay/internal/adapters/events"
	"github.com/raybeam/relay/internal/adapters/fsm"
	"github.com/raybeam/relay/internal/adapters/health"
	"github.com/raybeam/relay/internal/adapters/reduction"
	"github.com/raybeam/relay/internal/adapters/registry"
	"github.com/raybeam/relay/internal/adapters/storage"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// Runtime wires the coordination layer together: storage, lease manager,
// circuit breaker provider, unit registry, dispatcher, orchestrator, event
// bus, reducers, and the health reporter. All collaborators are explicit
// constructor arguments, never ambient state.
type Runtime struct {
	config *domain.Config
	logger *slog.Logger

	store        ports.StoragePort
	leases       ports.LeaseManagerPort
	breakers     *circuit_breaker.Provider
	units        *registry.UnitRegistry
	guards       *fsm.GuardRegistry
	bus          *events.Bus
	dispatcher   *dispatch.Dispatcher
	orchestrator *engine.Orchestrator
	reporter     *health.Reporter

	mu          sync.RWMutex
	reducers    map[string]*reduction.Reducer
	workflows   map[string]domain.WorkflowDefinition
	started     bool
	unsubHealth func()
}

// New builds a runtime over the provided store. A nil store selects the
// in-memory adapter; callers wanting durability pass a badger-backed store.
func New(config *domain.Config, store ports.StoragePort) *Runtime {
	if config == nil {
		config = domain.DefaultConfig()
	}
	config.ApplyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = storage.NewMemoryStore(logger)
	}

	leases := storage.NewLeaseManager(store, config.Lease.AcquireBackoff, logger)
	units := registry.NewUnitRegistry(logger)
	bus := events.NewBus(config.Events.BufferSize, logger)
	breakers := circuit_breaker.NewProvider(config.CircuitBreaker, logger).
		WithSnapshots(store, bus, config.NodeID)

	dispatcher := dispatch.NewDispatcher(
		leases, units, breakers, bus,
		config.NodeID, config.CircuitBreaker.TripOnTerminal, logger,
	)

	orchestrator := engine.NewOrchestrator(
		store, leases, dispatcher, bus,
		config.NodeID, config.Lease, config.Retry, logger,
	)

	reporter := health.NewReporter(orchestrator, leases, breakers, config.Health.OutcomeHistory, logger)

	return &Runtime{
		config:       config,
		logger:       logger,
		store:        store,
		leases:       leases,
		breakers:     breakers,
		units:        units,
		guards:       fsm.NewGuardRegistry(),
		bus:          bus,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		reporter:     reporter,
		reducers:     make(map[string]*reduction.Reducer),
		workflows:    make(map[string]domain.WorkflowDefinition),
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return domain.ErrAlreadyStarted
	}

	if err := r.bus.Start(ctx); err != nil {
		return err
	}

	unsub, err := r.bus.Subscribe(
		func(e domain.Envelope) bool { return e.Operation == domain.OpActionCompleted },
		r.reporter.ObserveCompletion,
	)
	if err != nil {
		_ = r.bus.Stop()
		return err
	}
	r.unsubHealth = unsub

	r.started = true
	r.logger.Info("runtime started", "node_id", r.config.NodeID)
	return nil
}

func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return domain.ErrNotStarted
	}

	r.orchestrator.Drain()
	if r.unsubHealth != nil {
		r.unsubHealth()
	}
	if err := r.bus.Stop(); err != nil {
		r.logger.Warn("event bus stop failed", "error", err.Error())
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("storage close failed", "error", err.Error())
	}

	r.started = false
	r.logger.Info("runtime stopped", "node_id", r.config.NodeID)
	return nil
}

func (r *Runtime) RegisterEffect(unit ports.EffectUnit) error {
	return r.units.RegisterEffect(unit)
}

func (r *Runtime) RegisterCompute(unit ports.ComputeUnit) error {
	return r.units.RegisterCompute(unit)
}

func (r *Runtime) RegisterGuard(name string, guard domain.GuardFunc) error {
	return r.guards.Register(name, guard)
}

// RegisterWorkflow validates and stores a workflow definition by name.
func (r *Runtime) RegisterWorkflow(def domain.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[def.Name]; exists {
		return domain.NewValidationError("workflow", "already registered: "+def.Name)
	}
	r.workflows[def.Name] = def
	r.logger.Info("workflow registered", "workflow", def.Name, "mode", def.Mode)
	return nil
}

// RegisterReducer builds an FSM engine from the table and wraps it with
// persisted state. Table validation happens here, at load time.
func (r *Runtime) RegisterReducer(table domain.TransitionTable) error {
	eng, err := fsm.NewEngine(table, r.guards, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reducers[table.Name]; exists {
		return domain.NewValidationError("reducer", "already registered: "+table.Name)
	}

	r.reducers[table.Name] = reduction.NewReducer(
		eng, r.store, r.leases, r.dispatcher, r.bus,
		r.config.NodeID, r.config.Lease,
		ports.DispatchPolicy{
			Recovery:   domain.RecoveryRetry,
			MaxRetries: r.config.Retry.MaxRetries,
			Backoff:    r.config.Retry,
		},
		r.logger,
	)
	r.logger.Info("reducer registered", "reducer", table.Name, "initial", table.Initial)
	return nil
}

// StartWorkflow launches a registered workflow asynchronously.
func (r *Runtime) StartWorkflow(ctx context.Context, name string, payload map[string]interface{}, correlationID string) (string, error) {
	def, err := r.workflowDefinition(name)
	if err != nil {
		return "", err
	}
	return r.orchestrator.Start(ctx, def, payload, correlationID)
}

// ExecuteWorkflow runs a registered workflow synchronously.
func (r *Runtime) ExecuteWorkflow(ctx context.Context, name string, payload map[string]interface{}, correlationID string) (*domain.WorkflowRecord, error) {
	def, err := r.workflowDefinition(name)
	if err != nil {
		return nil, err
	}
	return r.orchestrator.Execute(ctx, def, payload, correlationID)
}

// Trigger feeds one trigger to a registered reducer.
func (r *Runtime) Trigger(ctx context.Context, reducer, trigger string, triggerCtx map[string]interface{}) (*reduction.TransitionOutcome, error) {
	r.mu.RLock()
	red, exists := r.reducers[reducer]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.NewValidationError("reducer", "not registered: "+reducer)
	}
	return red.Trigger(ctx, trigger, triggerCtx)
}

func (r *Runtime) WorkflowStatus(executionID string) (*domain.WorkflowRecord, bool, error) {
	return r.orchestrator.Status(executionID)
}

func (r *Runtime) ReducerState(reducer string) (string, error) {
	r.mu.RLock()
	red, exists := r.reducers[reducer]
	r.mu.RUnlock()

	if !exists {
		return "", domain.NewValidationError("reducer", "not registered: "+reducer)
	}
	return red.State()
}

func (r *Runtime) Health() health.Snapshot {
	return r.reporter.Snapshot()
}

// Subscribe attaches an external collaborator to the event bus.
func (r *Runtime) Subscribe(predicate ports.EventPredicate, handler ports.EventHandler) (func(), error) {
	return r.bus.Subscribe(predicate, handler)
}

func (r *Runtime) workflowDefinition(name string) (domain.WorkflowDefinition, error) {
	r.mu.RLock()
	def, exists := r.workflows[name]
	r.mu.RUnlock()

	if !exists {
		return domain.WorkflowDefinition{}, domain.NewValidationError("workflow", "not registered: "+name)
	}
	return def, nil
}
