package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTableValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   TransitionTable
		wantErr bool
	}{
		{
			name: "valid table",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", To: "pending"},
					{From: "pending", Trigger: "approve", To: "approved"},
				},
			},
			wantErr: false,
		},
		{
			name: "duplicate unguarded rows collide",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", To: "pending"},
					{From: "created", Trigger: "submit", To: "rejected"},
				},
			},
			wantErr: true,
		},
		{
			name: "guarded beside unguarded collides",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", Guard: "is_valid", To: "pending"},
					{From: "created", Trigger: "submit", To: "rejected"},
				},
			},
			wantErr: true,
		},
		{
			name: "same guard name collides",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", Guard: "is_valid", To: "pending"},
					{From: "created", Trigger: "submit", Guard: "is_valid", To: "rejected"},
				},
			},
			wantErr: true,
		},
		{
			name: "distinct guards accepted",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", Guard: "is_valid", To: "pending"},
					{From: "created", Trigger: "submit", Guard: "is_invalid", To: "rejected"},
				},
			},
			wantErr: false,
		},
		{
			name: "same trigger different states is fine",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "cancel", To: "cancelled"},
					{From: "pending", Trigger: "cancel", To: "cancelled"},
				},
			},
			wantErr: false,
		},
		{
			name: "missing name",
			table: TransitionTable{
				Initial: "created",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", To: "pending"},
				},
			},
			wantErr: true,
		},
		{
			name: "missing initial state",
			table: TransitionTable{
				Name: "order",
				Transitions: []Transition{
					{From: "created", Trigger: "submit", To: "pending"},
				},
			},
			wantErr: true,
		},
		{
			name:    "no transitions",
			table:   TransitionTable{Name: "order", Initial: "created"},
			wantErr: true,
		},
		{
			name: "empty trigger",
			table: TransitionTable{
				Name:    "order",
				Initial: "created",
				Transitions: []Transition{
					{From: "created", To: "pending"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTransitionString(t *testing.T) {
	unguarded := Transition{From: "created", Trigger: "submit", To: "pending"}
	assert.Equal(t, "created --submit--> pending", unguarded.String())

	guarded := Transition{From: "created", Trigger: "submit", Guard: "is_valid", To: "pending"}
	assert.Equal(t, "created --submit[is_valid]--> pending", guarded.String())
}
