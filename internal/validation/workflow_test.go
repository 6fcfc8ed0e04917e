package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditkit/decisionflow/pkg/schema"
)

type actionSet map[string]bool

func (s actionSet) Has(name string) bool { return s[name] }

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator(actionSet{
		"credit_check": true,
		"update_data":  true,
	})
	require.NoError(t, err)
	return v
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func validWorkflow(t *testing.T) *schema.WorkflowDefinition {
	t.Helper()
	return &schema.WorkflowDefinition{
		ID: "loan",
		Nodes: []schema.WorkflowNode{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "check", Type: schema.NodeTypeCondition, Data: mustRaw(t, map[string]any{
				"expression": `applicant.credit_score >= 700.0`,
			})},
			{ID: "approve", Type: schema.NodeTypeEnd},
			{ID: "decline", Type: schema.NodeTypeEnd},
		},
		Connections: []schema.WorkflowConnection{
			{Source: "start", Target: "check", ConnectorType: schema.ConnectorSuccess},
			{Source: "check", Target: "approve", ConnectorType: schema.ConnectorTrue},
			{Source: "check", Target: "decline", ConnectorType: schema.ConnectorFalse},
		},
	}
}

func TestValidate_ValidWorkflow(t *testing.T) {
	v := newValidator(t)
	result := v.Validate(validWorkflow(t))
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_NilDefinition(t *testing.T) {
	v := newValidator(t)
	result := v.Validate(nil)
	assert.False(t, result.Valid())
}

func TestValidate_MissingID(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.ID = ""
	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidate_UnknownNodeType(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes[1].Type = "teleport"
	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestValidate_NoStartNode(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes = def.Nodes[1:]
	def.Connections = def.Connections[1:]

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueCode(t, result.Errors, schema.ErrCodeNoStartNode)
}

func TestValidate_MultipleStartNodes(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes = append(def.Nodes, schema.WorkflowNode{ID: "start2", Type: schema.NodeTypeStart})

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueCode(t, result.Errors, schema.ErrCodeMultipleStartNodes)
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes = append(def.Nodes, schema.WorkflowNode{ID: "check", Type: schema.NodeTypeEnd})

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueContains(t, result.Errors, "duplicate node id")
}

func TestValidate_DanglingConnection(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Connections = append(def.Connections,
		schema.WorkflowConnection{Source: "check", Target: "ghost"})

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueContains(t, result.Errors, "non-existent node")
}

func TestValidate_OutgoingFromEndRejected(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Connections = append(def.Connections,
		schema.WorkflowConnection{Source: "approve", Target: "decline"})

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueContains(t, result.Errors, "end nodes cannot have outgoing connections")
}

func TestValidate_ConditionWithoutExpression(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes[1].Data = nil

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueContains(t, result.Errors, "no expression")
}

func TestValidate_UnregisteredAction(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Mode = schema.ModeEnhanced
	def.Nodes = append(def.Nodes, schema.WorkflowNode{
		ID: "act", Type: schema.NodeTypeAction,
		Data: mustRaw(t, map[string]any{"action": "no_such_action"}),
	})
	def.Connections = append(def.Connections,
		schema.WorkflowConnection{Source: "start", Target: "act"})

	result := v.Validate(def)
	assert.False(t, result.Valid())
	requireIssueContains(t, result.Errors, "not registered")
}

func TestValidate_AsyncActionSkipsRegistryCheck(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes = append(def.Nodes, schema.WorkflowNode{
		ID: "manual", Type: schema.NodeTypeAction,
		Data: mustRaw(t, map[string]any{"action": "manual_approval", "async": true}),
	})
	def.Connections = append(def.Connections,
		schema.WorkflowConnection{Source: "start", Target: "manual", Priority: 1})

	result := v.Validate(def)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestValidate_ModeMembershipWarning(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Mode = schema.ModeSimple
	def.Nodes = append(def.Nodes, schema.WorkflowNode{
		ID: "rules", Type: schema.NodeTypeRuleSet,
		Data: mustRaw(t, map[string]any{"template": "standard_loan"}),
	})
	def.Connections = append(def.Connections,
		schema.WorkflowConnection{Source: "start", Target: "rules"})

	result := v.Validate(def)
	assert.True(t, result.Valid())
	requireIssueContains(t, result.Warnings, "not available in simple mode")
}

func TestValidate_ConditionBranchWarning(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	// Drop the false branch.
	def.Connections = def.Connections[:2]

	result := v.Validate(def)
	assert.True(t, result.Valid())
	requireIssueContains(t, result.Warnings, "no false connection")
}

func TestValidate_UnreachableNodeWarning(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes = append(def.Nodes, schema.WorkflowNode{ID: "island", Type: schema.NodeTypeEnd})

	result := v.Validate(def)
	assert.True(t, result.Valid())
	requireIssueContains(t, result.Warnings, "unreachable")
}

func TestValidate_CycleWarning(t *testing.T) {
	v := newValidator(t)
	def := validWorkflow(t)
	def.Nodes = append(def.Nodes, schema.WorkflowNode{
		ID: "retry", Type: schema.NodeTypeCondition,
		Data: mustRaw(t, map[string]any{"expression": `variables.retries < 3.0`}),
	})
	def.Connections = append(def.Connections,
		schema.WorkflowConnection{Source: "check", Target: "retry", ConnectorType: schema.ConnectorFalse, Priority: 1},
		schema.WorkflowConnection{Source: "retry", Target: "check", ConnectorType: schema.ConnectorTrue},
		schema.WorkflowConnection{Source: "retry", Target: "decline", ConnectorType: schema.ConnectorFalse},
	)

	result := v.Validate(def)
	assert.True(t, result.Valid())
	requireIssueContains(t, result.Warnings, "cycle")
}

func TestValidate_DecisionModes(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		ok   bool
	}{
		{"simple without condition", map[string]any{"mode": "simple"}, false},
		{"complex without conditions", map[string]any{"mode": "complex"}, false},
		{"custom logic without formula", map[string]any{
			"mode":  "complex",
			"logic": "custom",
			"conditions": []map[string]any{
				{"field": "x", "operator": "is_null"},
			},
		}, false},
		{"multiple without options", map[string]any{"mode": "multiple"}, false},
		{"score_based without variable", map[string]any{"mode": "score_based"}, false},
		{"no mode", map[string]any{}, false},
		{"unknown mode", map[string]any{"mode": "vibes"}, false},
		{"valid threshold", map[string]any{
			"mode": "threshold", "variable": "score", "threshold": 600,
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newValidator(t)
			def := validWorkflow(t)
			def.Nodes = append(def.Nodes, schema.WorkflowNode{
				ID: "d", Type: schema.NodeTypeDecision, Data: mustRaw(t, tc.data),
			})
			def.Connections = append(def.Connections,
				schema.WorkflowConnection{Source: "start", Target: "d"})

			result := v.Validate(def)
			assert.Equal(t, tc.ok, result.Valid(), "errors: %v", result.Errors)
		})
	}
}

func TestValidateInput_AgainstSchema(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["applicant"],
		"properties": {
			"applicant": {"type": "object"}
		}
	}`)

	require.NoError(t, v.ValidateInput(map[string]any{
		"applicant": map[string]any{"credit_score": 700},
	}, inputSchema))

	err := v.ValidateInput(map[string]any{"other": 1}, inputSchema)
	require.Error(t, err)
}

func requireIssueCode(t *testing.T, issues []schema.ValidationIssue, code string) {
	t.Helper()
	for _, issue := range issues {
		if issue.Code == code {
			return
		}
	}
	t.Fatalf("no issue with code %s in %v", code, issues)
}

func requireIssueContains(t *testing.T, issues []schema.ValidationIssue, substr string) {
	t.Helper()
	for _, issue := range issues {
		if strings.Contains(issue.Message, substr) {
			return
		}
	}
	t.Fatalf("no issue containing %q in %v", substr, issues)
}
