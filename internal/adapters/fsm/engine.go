package fsm

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raybeam/relay/internal/domain"
)

// Engine evaluates a validated transition table. It has no side effects and
// holds no mutable state: persisting the target state is the reduction unit's
// job, and only after the resulting action succeeded.
type Engine struct {
	table  domain.TransitionTable
	guards *GuardRegistry
	logger *slog.Logger

	// exact and wildcard index transitions by (from, trigger) and trigger,
	// preserving declaration order within each bucket.
	exact    map[stateTrigger][]domain.Transition
	wildcard map[string][]domain.Transition
}

type stateTrigger struct {
	state   string
	trigger string
}

// NewEngine validates the table and resolves every guard name against the
// registry. Ambiguous or unresolvable tables are configuration errors; they
// never surface at evaluation time.
func NewEngine(table domain.TransitionTable, guards *GuardRegistry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if guards == nil {
		guards = NewGuardRegistry()
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		table:    table,
		guards:   guards,
		logger:   logger.With("component", "fsm-engine", "table", table.Name),
		exact:    make(map[stateTrigger][]domain.Transition),
		wildcard: make(map[string][]domain.Transition),
	}

	for _, tr := range table.Transitions {
		if tr.Guard != "" && !guards.Has(tr.Guard) {
			return nil, domain.NewConfigurationError(
				"unknown guard \""+tr.Guard+"\" referenced by transition "+tr.String(), nil)
		}
		if tr.From == domain.WildcardState {
			e.wildcard[tr.Trigger] = append(e.wildcard[tr.Trigger], tr)
			continue
		}
		e.exact[stateTrigger{tr.From, tr.Trigger}] = append(e.exact[stateTrigger{tr.From, tr.Trigger}], tr)
	}

	return e, nil
}

func (e *Engine) Table() domain.TransitionTable {
	return e.table
}

func (e *Engine) InitialState() string {
	return e.table.Initial
}

// Evaluate looks up the transition for (current, trigger): exact state first,
// falling back to the wildcard state only when no exact row matches. A false
// guard is treated as no match. The second return is false when no
// transition applies, which is a valid outcome, not an error.
func (e *Engine) Evaluate(current, trigger string, ctx map[string]interface{}) (*domain.Intent, bool) {
	if tr, ok := e.match(e.exact[stateTrigger{current, trigger}], ctx); ok {
		return e.intent(current, trigger, tr, ctx), true
	}
	if tr, ok := e.match(e.wildcard[trigger], ctx); ok {
		return e.intent(current, trigger, tr, ctx), true
	}

	e.logger.Debug("no matching transition", "state", current, "trigger", trigger)
	return nil, false
}

func (e *Engine) match(candidates []domain.Transition, ctx map[string]interface{}) (domain.Transition, bool) {
	for _, tr := range candidates {
		if tr.Guard == "" {
			return tr, true
		}
		guard, ok := e.guards.Get(tr.Guard)
		if !ok {
			// Guards were resolved at construction; a miss here means the
			// registry mutated underneath us. Treat as no match.
			e.logger.Warn("guard disappeared from registry", "guard", tr.Guard)
			continue
		}
		if guard(ctx) {
			return tr, true
		}
	}
	return domain.Transition{}, false
}

func (e *Engine) intent(current, trigger string, tr domain.Transition, ctx map[string]interface{}) *domain.Intent {
	actions := make([]string, len(tr.Actions))
	copy(actions, tr.Actions)

	return &domain.Intent{
		IntentID:    uuid.New().String(),
		Reducer:     e.table.Name,
		FromState:   current,
		TargetState: tr.To,
		Trigger:     trigger,
		Actions:     actions,
		Payload:     ctx,
		EmittedAt:   time.Now().UTC(),
	}
}
