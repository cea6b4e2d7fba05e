package domain

// Storage key layout. Everything the runtime persists lives under one of
// these prefixes so health snapshots and cleanup can scan by prefix.
const (
	LeaseKeyPrefix    = "lease:"
	ReducerKeyPrefix  = "reducer:state:"
	WorkflowKeyPrefix = "workflow:record:"
	CircuitKeyPrefix  = "circuit:state:"
)

func LeaseKey(resourceID string) string {
	return LeaseKeyPrefix + resourceID
}

func ReducerStateKey(reducer string) string {
	return ReducerKeyPrefix + reducer
}

func WorkflowKey(executionID string) string {
	return WorkflowKeyPrefix + executionID
}

func CircuitKey(resource string) string {
	return CircuitKeyPrefix + resource
}
