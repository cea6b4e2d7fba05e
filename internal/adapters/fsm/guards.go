package fsm

import (
	"sync"

	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// GuardRegistry resolves guard names referenced by transition tables to
// predicates. Registration happens at wiring time, before any engine is
// built against the registry.
type GuardRegistry struct {
	mu     sync.RWMutex
	guards map[string]domain.GuardFunc
}

func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{guards: make(map[string]domain.GuardFunc)}
}

func (r *GuardRegistry) Register(name string, guard domain.GuardFunc) error {
	if name == "" {
		return ports.UnitRegistrationError{UnitName: "<guard>", Reason: "guard name cannot be empty"}
	}
	if guard == nil {
		return ports.UnitRegistrationError{UnitName: name, Reason: "guard cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guards[name]; exists {
		return ports.UnitRegistrationError{UnitName: name, Reason: "guard already registered"}
	}
	r.guards[name] = guard
	return nil
}

func (r *GuardRegistry) Get(name string) (domain.GuardFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	guard, ok := r.guards[name]
	return guard, ok
}

func (r *GuardRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}
