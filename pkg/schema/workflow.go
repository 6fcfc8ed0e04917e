package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable decisioning workflow format.
// The authoring UI produces this; the engine treats it as immutable once
// loaded for a given execution.
type WorkflowDefinition struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Mode        WorkflowMode         `json:"mode,omitempty"` // simple | enhanced | enterprise
	Nodes       []WorkflowNode       `json:"nodes"`
	Connections []WorkflowConnection `json:"connections"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// WorkflowNode is a single typed node in the decision graph.
// Data decodes into the per-type config struct (see node_config.go).
type WorkflowNode struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Name string          `json:"name,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WorkflowConnection is a typed directed edge between two nodes.
// Condition, when present, is a CEL expression that must evaluate truthy
// for the connection to be taken.
type WorkflowConnection struct {
	ID             string        `json:"id,omitempty"`
	Source         string        `json:"source"`
	Target         string        `json:"target"`
	ConnectorType  ConnectorType `json:"connector_type,omitempty"`
	Condition      string        `json:"condition,omitempty"`
	Priority       int           `json:"priority,omitempty"`
	IsErrorHandler bool          `json:"is_error_handler,omitempty"`
}

// NodeType enumerates the kinds of nodes in a decisioning workflow.
type NodeType string

const (
	NodeTypeStart      NodeType = "start"
	NodeTypeCondition  NodeType = "condition"
	NodeTypeAction     NodeType = "action"
	NodeTypeEnd        NodeType = "end"
	NodeTypeDataSource NodeType = "data_source"
	NodeTypeRuleSet    NodeType = "rule_set"
	NodeTypeDecision   NodeType = "decision"

	// Extended node types selectable in enhanced/enterprise authoring modes.
	// The engine executes them through the action executor path.
	NodeTypeValidation   NodeType = "validation"
	NodeTypeIntegration  NodeType = "integration"
	NodeTypeNotification NodeType = "notification"
	NodeTypeAIDecision   NodeType = "ai_decision"
	NodeTypeBatchProcess NodeType = "batch_process"
	NodeTypeAuditLog     NodeType = "audit_log"
)

// ConnectorType enumerates the outgoing edge slots on a node.
type ConnectorType string

const (
	ConnectorDefault  ConnectorType = "default"
	ConnectorSuccess  ConnectorType = "success"
	ConnectorFailure  ConnectorType = "failure"
	ConnectorTrue     ConnectorType = "true"
	ConnectorFalse    ConnectorType = "false"
	ConnectorError    ConnectorType = "error"
	ConnectorTimeout  ConnectorType = "timeout"
	ConnectorManual   ConnectorType = "manual"
	ConnectorApproved ConnectorType = "approved"
	ConnectorDeclined ConnectorType = "declined"
	ConnectorReview   ConnectorType = "review"
)

// WorkflowMode restricts which node types the authoring UI offers.
// The engine itself is mode-agnostic.
type WorkflowMode string

const (
	ModeSimple     WorkflowMode = "simple"
	ModeEnhanced   WorkflowMode = "enhanced"
	ModeEnterprise WorkflowMode = "enterprise"
)

// NodeTypesForMode returns the node types selectable at authoring time
// for the given mode. Unknown modes get the simple set.
func NodeTypesForMode(mode WorkflowMode) []NodeType {
	simple := []NodeType{
		NodeTypeStart, NodeTypeCondition, NodeTypeAction, NodeTypeEnd,
	}
	enhanced := append(simple,
		NodeTypeDataSource, NodeTypeRuleSet, NodeTypeDecision,
	)
	enterprise := append(enhanced,
		NodeTypeValidation, NodeTypeIntegration, NodeTypeNotification,
		NodeTypeAIDecision, NodeTypeBatchProcess, NodeTypeAuditLog,
	)

	switch mode {
	case ModeEnhanced:
		return enhanced
	case ModeEnterprise:
		return enterprise
	default:
		return simple
	}
}
