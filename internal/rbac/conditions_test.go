package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateConditions_Empty(t *testing.T) {
	assert.True(t, evaluateConditions(nil, nil))
	assert.True(t, evaluateConditions(map[string]any{}, map[string]any{"x": 1}))
}

func TestEvaluateConditions_MissingKey(t *testing.T) {
	conds := map[string]any{"department": "security"}
	assert.False(t, evaluateConditions(conds, map[string]any{}))
	assert.False(t, evaluateConditions(conds, nil))
}

func TestEvaluateConditions_Operators(t *testing.T) {
	tests := []struct {
		name    string
		conds   map[string]any
		evalCtx map[string]any
		want    bool
	}{
		{
			"plain equality shorthand",
			map[string]any{"env": "prod"},
			map[string]any{"env": "prod"},
			true,
		},
		{
			"eq operator",
			map[string]any{"env": map[string]any{"eq": "prod"}},
			map[string]any{"env": "prod"},
			true,
		},
		{
			"eq mismatch",
			map[string]any{"env": map[string]any{"eq": "prod"}},
			map[string]any{"env": "staging"},
			false,
		},
		{
			"in operator hit",
			map[string]any{"region": map[string]any{"in": []any{"eu", "us"}}},
			map[string]any{"region": "eu"},
			true,
		},
		{
			"in operator miss",
			map[string]any{"region": map[string]any{"in": []any{"eu", "us"}}},
			map[string]any{"region": "ap"},
			false,
		},
		{
			"gt operator",
			map[string]any{"clearance": map[string]any{"gt": 2}},
			map[string]any{"clearance": 3},
			true,
		},
		{
			"lt operator",
			map[string]any{"risk": map[string]any{"lt": 0.5}},
			map[string]any{"risk": 0.3},
			true,
		},
		{
			"gt against non-number",
			map[string]any{"clearance": map[string]any{"gt": 2}},
			map[string]any{"clearance": "high"},
			false,
		},
		{
			"unknown operator",
			map[string]any{"x": map[string]any{"matches": ".*"}},
			map[string]any{"x": "anything"},
			false,
		},
		{
			"numeric coercion int vs float",
			map[string]any{"level": map[string]any{"eq": 3}},
			map[string]any{"level": 3.0},
			true,
		},
		{
			"all conditions must hold",
			map[string]any{"env": "prod", "level": map[string]any{"gt": 1}},
			map[string]any{"env": "prod", "level": 1},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateConditions(tt.conds, tt.evalCtx))
		})
	}
}
