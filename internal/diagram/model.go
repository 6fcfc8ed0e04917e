package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindStart      NodeKind = "start"
	NodeKindCondition  NodeKind = "condition"
	NodeKindDecision   NodeKind = "decision"
	NodeKindRuleSet    NodeKind = "rule_set"
	NodeKindAction     NodeKind = "action"
	NodeKindDataSource NodeKind = "data_source"
	NodeKindEnd        NodeKind = "end"
)

// DiagramModel is the intermediate representation used by renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node from an execution.
type StatusOverlay struct {
	Status string // visited | failed
	Visits int
	Error  string
}

// Edge represents a connection between two nodes.
type Edge struct {
	From         string
	To           string
	Label        string
	ErrorHandler bool
}
