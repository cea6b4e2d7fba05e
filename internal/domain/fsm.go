package domain

import (
	"fmt"
	"time"
)

// WildcardState matches any current state. Used for error and abort handling
// transitions that must fire regardless of where the machine is.
const WildcardState = "*"

// GuardFunc is a side-effect-free predicate over the trigger context.
type GuardFunc func(ctx map[string]interface{}) bool

// Transition is a single row of a reducer's declarative transition table.
// Guard is resolved by name against a guard registry at load time; an empty
// name means the transition is unconditional.
type Transition struct {
	From    string   `json:"from" yaml:"from"`
	Trigger string   `json:"trigger" yaml:"trigger"`
	Guard   string   `json:"guard,omitempty" yaml:"guard,omitempty"`
	To      string   `json:"to" yaml:"to"`
	Actions []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

func (t Transition) String() string {
	if t.Guard != "" {
		return fmt.Sprintf("%s --%s[%s]--> %s", t.From, t.Trigger, t.Guard, t.To)
	}
	return fmt.Sprintf("%s --%s--> %s", t.From, t.Trigger, t.To)
}

// TransitionTable is the full declarative definition of one reducer's state
// machine. Transitions keep their declaration order; runtime evaluation takes
// the first whose guard passes.
type TransitionTable struct {
	Name        string       `json:"name" yaml:"name"`
	Initial     string       `json:"initial" yaml:"initial"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
}

// Validate rejects tables where two transitions on the same (from, trigger)
// pair could both match at runtime. Two unguarded rows always collide; two
// rows sharing the same guard name collide; an unguarded row alongside a
// guarded one collides because the unguarded row matches whenever the guarded
// one does. Distinct guard names are accepted and mutual exclusion becomes
// the author's contract.
func (tt *TransitionTable) Validate() error {
	if tt.Name == "" {
		return NewValidationError("transition_table", "name cannot be empty")
	}
	if tt.Initial == "" {
		return NewValidationError("transition_table", "initial state cannot be empty")
	}
	if len(tt.Transitions) == 0 {
		return NewValidationError("transition_table", "at least one transition is required")
	}

	type pair struct{ from, trigger string }
	seen := make(map[pair][]Transition)

	for _, tr := range tt.Transitions {
		if tr.From == "" || tr.Trigger == "" || tr.To == "" {
			return NewValidationError("transition_table",
				fmt.Sprintf("transition %q has empty from/trigger/to", tr.String()))
		}
		key := pair{tr.From, tr.Trigger}
		for _, prev := range seen[key] {
			if prev.Guard == "" || tr.Guard == "" || prev.Guard == tr.Guard {
				return NewConfigurationError(
					fmt.Sprintf("ambiguous transitions in table %q: %q conflicts with %q",
						tt.Name, prev.String(), tr.String()), nil)
			}
		}
		seen[key] = append(seen[key], tr)
	}

	return nil
}

// Intent is a pure proposal to transition state, produced by the FSM engine.
// It implies no side effects; the conversion step that turns it into an
// Action consumes it exactly once.
type Intent struct {
	IntentID    string                 `json:"intent_id"`
	Reducer     string                 `json:"reducer"`
	FromState   string                 `json:"from_state"`
	TargetState string                 `json:"target_state"`
	Trigger     string                 `json:"trigger"`
	Actions     []string               `json:"actions,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	EmittedAt   time.Time              `json:"emitted_at"`
}
