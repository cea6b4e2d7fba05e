package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/ports"
)

// UnitRegistry maps action types to the effect and compute units that execute
// them. A name is unique across both kinds.
type UnitRegistry struct {
	mu     sync.RWMutex
	units  map[string]ports.Executable
	logger *slog.Logger
}

func NewUnitRegistry(logger *slog.Logger) *UnitRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &UnitRegistry{
		units:  make(map[string]ports.Executable),
		logger: logger.With("component", "unit-registry"),
	}
}

func (r *UnitRegistry) RegisterEffect(unit ports.EffectUnit) error {
	if unit == nil {
		return ports.UnitRegistrationError{UnitName: "<nil>", Reason: "unit cannot be nil"}
	}
	return r.register(effectExecutable{unit})
}

func (r *UnitRegistry) RegisterCompute(unit ports.ComputeUnit) error {
	if unit == nil {
		return ports.UnitRegistrationError{UnitName: "<nil>", Reason: "unit cannot be nil"}
	}
	return r.register(computeExecutable{unit})
}

func (r *UnitRegistry) register(exec ports.Executable) error {
	name := exec.Name()
	if name == "" {
		return ports.UnitRegistrationError{UnitName: name, Reason: "unit name cannot be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[name]; exists {
		r.logger.Warn("unit registration conflict detected", "unit", name)
		return ports.UnitRegistrationError{UnitName: name, Reason: "unit already registered"}
	}

	r.units[name] = exec
	r.logger.Info("unit registered", "unit", name)
	return nil
}

func (r *UnitRegistry) Resolve(name string) (ports.Executable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, exists := r.units[name]
	if !exists {
		return nil, domain.NewTerminalError("unit not found in registry: "+name, domain.ErrNotFound)
	}
	return unit, nil
}

func (r *UnitRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *UnitRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.units[name]
	return ok
}

type effectExecutable struct {
	unit ports.EffectUnit
}

func (e effectExecutable) Name() string { return e.unit.Name() }

func (e effectExecutable) Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return e.unit.Execute(ctx, payload)
}

type computeExecutable struct {
	unit ports.ComputeUnit
}

func (c computeExecutable) Name() string { return c.unit.Name() }

func (c computeExecutable) Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return c.unit.Apply(ctx, payload)
}
