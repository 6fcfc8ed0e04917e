package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditkit/decisionflow/pkg/schema"
)

func decisionContext(applicant map[string]any) *ExecutionContext {
	ec := newExecutionContext("exec-1", "wf-1", nil)
	ec.Variables["applicant"] = applicant
	return ec
}

func TestDecision_SimpleMode(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"credit_score": float64(720)})

	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "simple",
		"condition": map[string]any{
			"field": "credit_score", "operator": "greater_than_or_equal", "value": 700,
		},
	})
	result := execNode(t, s, n, ec)

	require.True(t, result.Success)
	assert.Equal(t, "true", result.Output["decision_outcome"])
	assert.Equal(t, 1.0, result.Output["decision_confidence"])
	assert.Equal(t, schema.ConnectorTrue, result.NextConnector)
}

func TestDecision_SimpleMode_MissingCondition(t *testing.T) {
	s := newTestExecutors(t)
	n := node(t, "d", schema.NodeTypeDecision, map[string]any{"mode": "simple"})
	result := execNode(t, s, n, nil)
	assert.False(t, result.Success)
}

func TestDecision_ComplexMode_AndOr(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{
		"credit_score":  float64(760),
		"annual_income": float64(30000),
	})

	conditions := []map[string]any{
		{"field": "credit_score", "operator": "greater_than_or_equal", "value": 740},
		{"field": "annual_income", "operator": "greater_than_or_equal", "value": 50000},
	}

	and := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "complex", "logic": "AND", "conditions": conditions,
	})
	result := execNode(t, s, and, ec)
	require.True(t, result.Success)
	assert.Equal(t, "false", result.Output["decision_outcome"])
	assert.Equal(t, schema.ConnectorFalse, result.NextConnector)

	or := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "complex", "logic": "OR", "conditions": conditions,
	})
	result = execNode(t, s, or, ec)
	assert.Equal(t, "true", result.Output["decision_outcome"])
	// One of two conditions matched.
	assert.Equal(t, 0.5, result.Output["decision_confidence"])
}

func TestDecision_ComplexMode_CustomLogic(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{
		"credit_score":  float64(760),
		"annual_income": float64(30000),
		"has_cosigner":  true,
	})

	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode":  "complex",
		"logic": "custom",
		"conditions": []map[string]any{
			{"field": "credit_score", "operator": "greater_than_or_equal", "value": 740},
			{"field": "annual_income", "operator": "greater_than_or_equal", "value": 50000},
			{"field": "has_cosigner", "operator": "equals", "value": true},
		},
		"custom_logic": "(c0 && c1) || c2",
	})
	result := execNode(t, s, n, ec)

	require.True(t, result.Success)
	assert.Equal(t, "true", result.Output["decision_outcome"])
}

func TestDecision_ComplexMode_CustomLogicNonBoolean(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"credit_score": float64(760)})

	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode":  "complex",
		"logic": "custom",
		"conditions": []map[string]any{
			{"field": "credit_score", "operator": "greater_than_or_equal", "value": 740},
		},
		// Evaluates to a number, not a verdict.
		"custom_logic": "1 + 2",
	})
	result := execNode(t, s, n, ec)

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, schema.ErrCodeInvalidCondition, result.Error.Code)
	assert.Contains(t, result.Error.Message, "want bool")
}

func TestDecision_ComplexMode_CustomLogicMissingFormula(t *testing.T) {
	s := newTestExecutors(t)
	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode":  "complex",
		"logic": "custom",
		"conditions": []map[string]any{
			{"field": "x", "operator": "is_null"},
		},
	})
	result := execNode(t, s, n, nil)
	assert.False(t, result.Success)
}

func TestDecision_MultipleMode(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"loan_purpose": "auto"})

	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "multiple",
		"options": []map[string]any{
			{
				"outcome":   "home_track",
				"condition": map[string]any{"field": "loan_purpose", "operator": "equals", "value": "home"},
			},
			{
				"outcome":   "auto_track",
				"condition": map[string]any{"field": "loan_purpose", "operator": "equals", "value": "auto"},
			},
		},
		"default_outcome": "generic_track",
		"outcome_connectors": map[string]any{
			"auto_track": "approved",
		},
	})
	result := execNode(t, s, n, ec)

	require.True(t, result.Success)
	assert.Equal(t, "auto_track", result.Output["decision_outcome"])
	assert.Equal(t, schema.ConnectorApproved, result.NextConnector)
}

func TestDecision_MultipleMode_DefaultOutcome(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"loan_purpose": "boat"})

	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "multiple",
		"options": []map[string]any{
			{
				"outcome":   "home_track",
				"condition": map[string]any{"field": "loan_purpose", "operator": "equals", "value": "home"},
			},
		},
		"default_outcome": "generic_track",
	})
	result := execNode(t, s, n, ec)

	require.True(t, result.Success)
	assert.Equal(t, "generic_track", result.Output["decision_outcome"])
	assert.Equal(t, 0.5, result.Output["decision_confidence"])
	// Unknown outcome with no explicit connector maps to default.
	assert.Equal(t, schema.ConnectorDefault, result.NextConnector)
}

func TestDecision_MultipleMode_NoMatchNoDefault(t *testing.T) {
	s := newTestExecutors(t)
	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "multiple",
		"options": []map[string]any{
			{
				"outcome":   "x",
				"condition": map[string]any{"field": "missing", "operator": "is_not_null"},
			},
		},
	})
	result := execNode(t, s, n, nil)
	assert.False(t, result.Success)
}

func TestDecision_ScoreBasedMode(t *testing.T) {
	s := newTestExecutors(t)

	cases := []struct {
		score     float64
		outcome   string
		connector schema.ConnectorType
	}{
		{810, "excellent", schema.ConnectorTrue},
		{740, "good", schema.ConnectorTrue},
		{660, "fair", schema.ConnectorReview},
		{540, "poor", schema.ConnectorFalse},
	}

	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			ec := decisionContext(map[string]any{"credit_score": tc.score})
			n := node(t, "d", schema.NodeTypeDecision, map[string]any{
				"mode":     "score_based",
				"variable": "credit_score",
				"thresholds": map[string]any{
					"excellent": 800, "good": 700, "fair": 600,
				},
			})
			result := execNode(t, s, n, ec)
			require.True(t, result.Success)
			assert.Equal(t, tc.outcome, result.Output["decision_outcome"])
			assert.Equal(t, tc.connector, result.NextConnector)
		})
	}
}

func TestDecision_ThresholdMode(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"debt_to_income": 0.42})

	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode":       "threshold",
		"variable":   "debt_to_income",
		"threshold":  0.5,
		"comparison": "less_than",
	})
	result := execNode(t, s, n, ec)

	require.True(t, result.Success)
	assert.Equal(t, "above", result.Output["decision_outcome"])
	assert.Equal(t, schema.ConnectorTrue, result.NextConnector)
}

func TestDecision_ThresholdMode_UnknownComparison(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"x": float64(1)})
	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "threshold", "variable": "x", "threshold": 0, "comparison": "sideways",
	})
	result := execNode(t, s, n, ec)
	assert.False(t, result.Success)
}

func TestDecision_ThresholdMode_NonNumericVariable(t *testing.T) {
	s := newTestExecutors(t)
	ec := decisionContext(map[string]any{"x": "not a number"})
	n := node(t, "d", schema.NodeTypeDecision, map[string]any{
		"mode": "threshold", "variable": "x", "threshold": 1,
	})
	result := execNode(t, s, n, ec)
	assert.False(t, result.Success)
}

func TestDecision_UnknownMode(t *testing.T) {
	s := newTestExecutors(t)
	n := node(t, "d", schema.NodeTypeDecision, map[string]any{"mode": "vibes"})
	result := execNode(t, s, n, nil)
	assert.False(t, result.Success)
}
