package validation

import (
	"fmt"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// validateGraph performs graph analysis on the decision graph:
// reachability from the start node (BFS) and cycle detection (DFS).
// Unreachable nodes and cycles are warnings, not errors: unreachable
// nodes are simply never visited, and cycles are legal as long as the
// iteration cap bounds them at runtime.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	var startID string
	for _, n := range def.Nodes {
		if n.Type == schema.NodeTypeStart {
			startID = n.ID
			break
		}
	}
	if startID == "" {
		return result // already an error in the semantic stage
	}

	adjacency := make(map[string][]string, len(def.Nodes))
	for _, conn := range def.Connections {
		adjacency[conn.Source] = append(adjacency[conn.Source], conn.Target)
	}

	// Reachability: BFS from the start node.
	reachable := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the start node", n.ID))
		}
	}

	// Cycle detection: DFS with a recursion stack.
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(def.Nodes))
	var cycleAt string

	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		for _, next := range adjacency[id] {
			switch state[next] {
			case unvisited:
				visit(next)
			case inStack:
				if cycleAt == "" {
					cycleAt = next
				}
			}
		}
		state[id] = done
	}
	visit(startID)

	if cycleAt != "" {
		result.AddWarning("connections", schema.ErrCodeValidation,
			fmt.Sprintf("workflow contains a cycle through node %q; execution is bounded by the iteration cap", cycleAt))
	}

	return result
}
