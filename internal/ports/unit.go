package ports

import "context"

// EffectUnit performs side-effecting I/O. Execution must be idempotent per
// action_id: redelivered actions may reach the unit more than once.
type EffectUnit interface {
	Name() string
	Execute(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
}

// ComputeUnit is a pure transform: no I/O, no observable side effects, output
// fully determined by the payload.
type ComputeUnit interface {
	Name() string
	Apply(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
}

// UnitRegistryPort resolves action types to the units that execute them.
type UnitRegistryPort interface {
	RegisterEffect(unit EffectUnit) error
	RegisterCompute(unit ComputeUnit) error
	Resolve(name string) (Executable, error)
	List() []string
	Has(name string) bool
}

// Executable is the uniform invocation surface the dispatcher sees; the
// registry wraps both unit kinds behind it.
type Executable interface {
	Name() string
	Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)
}

type UnitRegistrationError struct {
	UnitName string
	Reason   string
}

func (e UnitRegistrationError) Error() string {
	return "unit registration failed for '" + e.UnitName + "': " + e.Reason
}
