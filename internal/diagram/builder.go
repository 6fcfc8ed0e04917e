package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/creditkit/decisionflow/internal/store"
	"github.com/creditkit/decisionflow/pkg/schema"
)

// Build constructs a DiagramModel from a WorkflowDefinition and an
// optional execution record. With a record, visited nodes get a status
// overlay (visit counts from the execution path, failures from the
// recorded errors).
func Build(def *schema.WorkflowDefinition, rec *store.ExecutionRecord) *DiagramModel {
	visits := make(map[string]int)
	failed := make(map[string]string)
	if rec != nil {
		for _, id := range rec.ExecutionPath {
			visits[id]++
		}
		for _, e := range decodeErrors(rec.Errors) {
			failed[e.NodeID] = e.Message
		}
	}

	nodes := make([]*Node, 0, len(def.Nodes))
	for i := range def.Nodes {
		wn := &def.Nodes[i]
		node := &Node{
			ID:    wn.ID,
			Label: nodeLabel(wn),
			Kind:  nodeTypeToKind(wn.Type),
		}
		if n, ok := visits[wn.ID]; ok {
			node.Status = &StatusOverlay{Status: "visited", Visits: n}
		}
		if msg, ok := failed[wn.ID]; ok {
			node.Status = &StatusOverlay{Status: "failed", Visits: visits[wn.ID], Error: msg}
		}
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(def.Connections))
	for _, conn := range def.Connections {
		edges = append(edges, Edge{
			From:         conn.Source,
			To:           conn.Target,
			Label:        edgeLabel(conn),
			ErrorHandler: conn.IsErrorHandler || conn.ConnectorType == schema.ConnectorError,
		})
	}

	title := def.Name
	if title == "" {
		title = def.ID
	}
	return &DiagramModel{Title: title, Nodes: nodes, Edges: edges}
}

// nodeTypeToKind converts a schema.NodeType to a NodeKind. Extended node
// types render as actions, matching how the engine executes them.
func nodeTypeToKind(nt schema.NodeType) NodeKind {
	switch nt {
	case schema.NodeTypeStart:
		return NodeKindStart
	case schema.NodeTypeCondition:
		return NodeKindCondition
	case schema.NodeTypeDecision:
		return NodeKindDecision
	case schema.NodeTypeRuleSet:
		return NodeKindRuleSet
	case schema.NodeTypeDataSource:
		return NodeKindDataSource
	case schema.NodeTypeEnd:
		return NodeKindEnd
	default:
		return NodeKindAction
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(wn *schema.WorkflowNode) string {
	if wn.Name != "" {
		return fmt.Sprintf("%s\n(%s)", wn.Name, wn.Type)
	}
	return fmt.Sprintf("%s\n(%s)", wn.ID, wn.Type)
}

// edgeLabel labels an edge with its connector type, skipping the
// uninformative default.
func edgeLabel(conn schema.WorkflowConnection) string {
	if conn.ConnectorType == "" || conn.ConnectorType == schema.ConnectorDefault {
		return ""
	}
	return string(conn.ConnectorType)
}

func decodeErrors(raw json.RawMessage) []struct {
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
} {
	var errs []struct {
		NodeID  string `json:"node_id"`
		Message string `json:"message"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &errs)
	}
	return errs
}
