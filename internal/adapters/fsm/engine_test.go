package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raybeam/relay/internal/domain"
)

func orderTable() domain.TransitionTable {
	return domain.TransitionTable{
		Name:    "order",
		Initial: "created",
		Transitions: []domain.Transition{
			{From: "created", Trigger: "submit", To: "pending", Actions: []string{"reserve_stock"}},
			{From: "pending", Trigger: "approve", To: "approved", Actions: []string{"charge_payment"}},
			{From: "pending", Trigger: "reject", To: "rejected"},
			{From: domain.WildcardState, Trigger: "cancel", To: "cancelled", Actions: []string{"release_stock"}},
		},
	}
}

func TestEngineEvaluateExactMatch(t *testing.T) {
	engine, err := NewEngine(orderTable(), nil, nil)
	require.NoError(t, err)

	intent, matched := engine.Evaluate("created", "submit", map[string]interface{}{"order_id": "o-1"})
	require.True(t, matched)
	assert.Equal(t, "order", intent.Reducer)
	assert.Equal(t, "created", intent.FromState)
	assert.Equal(t, "pending", intent.TargetState)
	assert.Equal(t, "submit", intent.Trigger)
	assert.Equal(t, []string{"reserve_stock"}, intent.Actions)
	assert.NotEmpty(t, intent.IntentID)
	assert.False(t, intent.EmittedAt.IsZero())
}

func TestEngineEvaluateNoMatch(t *testing.T) {
	engine, err := NewEngine(orderTable(), nil, nil)
	require.NoError(t, err)

	intent, matched := engine.Evaluate("approved", "submit", nil)
	assert.False(t, matched)
	assert.Nil(t, intent)
}

func TestEngineWildcardFallback(t *testing.T) {
	engine, err := NewEngine(orderTable(), nil, nil)
	require.NoError(t, err)

	// Cancel applies from any state through the wildcard row.
	for _, state := range []string{"created", "pending", "approved"} {
		intent, matched := engine.Evaluate(state, "cancel", nil)
		require.True(t, matched, "state %s", state)
		assert.Equal(t, state, intent.FromState)
		assert.Equal(t, "cancelled", intent.TargetState)
	}
}

func TestEngineExactMatchBeatsWildcard(t *testing.T) {
	table := orderTable()
	table.Transitions = append(table.Transitions,
		domain.Transition{From: "pending", Trigger: "cancel", To: "refund_pending"},
	)

	engine, err := NewEngine(table, nil, nil)
	require.NoError(t, err)

	intent, matched := engine.Evaluate("pending", "cancel", nil)
	require.True(t, matched)
	assert.Equal(t, "refund_pending", intent.TargetState)

	intent, matched = engine.Evaluate("created", "cancel", nil)
	require.True(t, matched)
	assert.Equal(t, "cancelled", intent.TargetState)
}

func TestEngineGuardSelection(t *testing.T) {
	guards := NewGuardRegistry()
	require.NoError(t, guards.Register("amount_high", func(ctx map[string]interface{}) bool {
		amount, _ := ctx["amount"].(float64)
		return amount >= 1000
	}))
	require.NoError(t, guards.Register("amount_low", func(ctx map[string]interface{}) bool {
		amount, _ := ctx["amount"].(float64)
		return amount < 1000
	}))

	table := domain.TransitionTable{
		Name:    "approval",
		Initial: "submitted",
		Transitions: []domain.Transition{
			{From: "submitted", Trigger: "review", Guard: "amount_high", To: "manual_review"},
			{From: "submitted", Trigger: "review", Guard: "amount_low", To: "auto_approved"},
		},
	}

	engine, err := NewEngine(table, guards, nil)
	require.NoError(t, err)

	intent, matched := engine.Evaluate("submitted", "review", map[string]interface{}{"amount": 2500.0})
	require.True(t, matched)
	assert.Equal(t, "manual_review", intent.TargetState)

	intent, matched = engine.Evaluate("submitted", "review", map[string]interface{}{"amount": 40.0})
	require.True(t, matched)
	assert.Equal(t, "auto_approved", intent.TargetState)
}

func TestEngineFalseGuardIsNoMatch(t *testing.T) {
	guards := NewGuardRegistry()
	require.NoError(t, guards.Register("never", func(ctx map[string]interface{}) bool { return false }))

	table := domain.TransitionTable{
		Name:    "gate",
		Initial: "idle",
		Transitions: []domain.Transition{
			{From: "idle", Trigger: "go", Guard: "never", To: "running"},
		},
	}

	engine, err := NewEngine(table, guards, nil)
	require.NoError(t, err)

	_, matched := engine.Evaluate("idle", "go", nil)
	assert.False(t, matched)
}

func TestEngineRejectsUnknownGuard(t *testing.T) {
	table := domain.TransitionTable{
		Name:    "gate",
		Initial: "idle",
		Transitions: []domain.Transition{
			{From: "idle", Trigger: "go", Guard: "missing", To: "running"},
		},
	}

	_, err := NewEngine(table, NewGuardRegistry(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestEngineRejectsAmbiguousTable(t *testing.T) {
	table := domain.TransitionTable{
		Name:    "gate",
		Initial: "idle",
		Transitions: []domain.Transition{
			{From: "idle", Trigger: "go", To: "running"},
			{From: "idle", Trigger: "go", To: "paused"},
		},
	}

	_, err := NewEngine(table, nil, nil)
	require.Error(t, err)
}

func TestEngineEvaluateIsPure(t *testing.T) {
	engine, err := NewEngine(orderTable(), nil, nil)
	require.NoError(t, err)

	// Evaluation never advances state on its own: the same input always
	// produces the same proposal.
	first, matched := engine.Evaluate("created", "submit", nil)
	require.True(t, matched)
	second, matched := engine.Evaluate("created", "submit", nil)
	require.True(t, matched)

	assert.Equal(t, first.TargetState, second.TargetState)
	assert.NotEqual(t, first.IntentID, second.IntentID)
}

func TestGuardRegistry(t *testing.T) {
	guards := NewGuardRegistry()

	require.NoError(t, guards.Register("always", func(ctx map[string]interface{}) bool { return true }))
	require.Error(t, guards.Register("always", func(ctx map[string]interface{}) bool { return true }))
	require.Error(t, guards.Register("", func(ctx map[string]interface{}) bool { return true }))
	require.Error(t, guards.Register("nil_guard", nil))

	assert.True(t, guards.Has("always"))
	assert.False(t, guards.Has("never"))
}
