package engine

import (
	"time"

	"github.com/creditkit/decisionflow/internal/rules"
	"github.com/creditkit/decisionflow/pkg/schema"
)

// ExecutionContext is the mutable per-run state threaded through node
// execution. One context is created per invocation and is exclusively
// owned by it; contexts are never shared across concurrent executions.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string

	// Variables is the mutable key-value namespace, seeded from the
	// input data and enriched by each node's output.
	Variables map[string]any

	// InputData is the read-only invocation input.
	InputData map[string]any

	// VariableOverrides are per-invocation values applied by the start
	// node after it seeds Variables; they win over both the node's
	// initial variables and the input data.
	VariableOverrides map[string]any

	// ExecutionPath is the ordered list of visited node ids.
	ExecutionPath []string

	// Errors accumulates node-level failures, including ones recovered
	// through error-handler connectors.
	Errors []ExecutionError

	// Warnings accumulates non-fatal conditions (failed branch
	// conditions, variable conflicts) surfaced to workflow authors.
	Warnings []string

	StartedAt time.Time
}

// ExecutionError records a node-level failure with its origin.
type ExecutionError struct {
	NodeID    string    `json:"node_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeExecutionResult is produced by a node executor and consumed by the
// connector resolver and the engine loop.
type NodeExecutionResult struct {
	Success       bool
	Output        map[string]any
	NextConnector schema.ConnectorType
	Error         *schema.Error
	DurationMs    int64

	// Decision is set by rule_set and end executors when a verdict is
	// reached.
	Decision *schema.RuleSetResult

	// Terminal is set by end executors; the loop stops without
	// resolving another connector.
	Terminal bool

	// Suspend, when set, asks the engine to park the execution in the
	// async operation registry instead of advancing.
	Suspend *SuspendRequest
}

// SuspendRequest describes a node execution awaiting an external callback.
type SuspendRequest struct {
	// Reason is recorded on the async operation (e.g. "manual_approval").
	Reason string
	// OnComplete is the connector followed once the operation completes.
	// Defaults to success.
	OnComplete schema.ConnectorType
}

// newExecutionContext seeds a context from the invocation input.
func newExecutionContext(executionID, workflowID string, input map[string]any) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Variables:   make(map[string]any),
		InputData:   deepCopyMap(input),
		StartedAt:   time.Now().UTC(),
	}
	return ec
}

// RecordError appends a node failure to the context.
func (ec *ExecutionContext) RecordError(nodeID string, err *schema.Error) {
	code := schema.ErrCodeNodeExecution
	msg := "unknown error"
	if err != nil {
		code = err.Code
		msg = err.Message
	}
	ec.Errors = append(ec.Errors, ExecutionError{
		NodeID:    nodeID,
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}

// MergeOutput merges a node's output into the variables namespace.
// Later writes win; conflicts are the caller's concern in parallel mode.
func (ec *ExecutionContext) MergeOutput(output map[string]any) {
	for k, v := range output {
		ec.Variables[k] = v
	}
}

// DataContext builds the rule-evaluation view over the context: the
// applicant namespace, the external data namespace, and the flat
// variables.
func (ec *ExecutionContext) DataContext() *rules.DataContext {
	return &rules.DataContext{
		Applicant: subMap(ec.Variables, "applicant"),
		External:  subMap(ec.Variables, "external"),
		Variables: ec.Variables,
	}
}

// ExpressionScope builds the variable namespaces exposed to condition
// expressions. nodeOutput may be nil outside connector resolution.
func (ec *ExecutionContext) ExpressionScope(nodeOutput map[string]any) map[string]any {
	return map[string]any{
		"applicant": subMap(ec.Variables, "applicant"),
		"external":  subMap(ec.Variables, "external"),
		"variables": ec.Variables,
		"input":     ec.InputData,
		"output":    nodeOutput,
	}
}

// branchCopy snapshots the context for a parallel branch. The branch
// gets its own variables map; the path and error slices stay with the
// parent and branches report back through merge.
func (ec *ExecutionContext) branchCopy() *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:   ec.ExecutionID,
		WorkflowID:    ec.WorkflowID,
		Variables:     deepCopyMap(ec.Variables),
		InputData:     ec.InputData,
		ExecutionPath: nil,
		StartedAt:     ec.StartedAt,
	}
}

func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

// --- deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value. Maps and slices are
// copied; primitives are value types.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
