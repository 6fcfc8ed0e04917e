package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/creditkit/decisionflow/internal/expressions"
	"github.com/creditkit/decisionflow/pkg/schema"
)

// ConnectorResolver picks the next node to visit from a node's outgoing
// connections and its execution result.
type ConnectorResolver struct {
	cel *expressions.CELEngine
}

// NewConnectorResolver creates a resolver backed by the given CEL engine.
func NewConnectorResolver(cel *expressions.CELEngine) *ConnectorResolver {
	return &ConnectorResolver{cel: cel}
}

// Resolution is the outcome of resolving a node's outgoing connections.
type Resolution struct {
	// TargetNodeID is empty when no connection passed; execution ends
	// without reaching an explicit end node (a warning condition).
	TargetNodeID  string
	ConnectorType schema.ConnectorType
	// Warnings records condition evaluation failures (fail-closed).
	Warnings []string
}

// Resolve selects at most one outgoing connection for the current node:
// filter to the node's connections, sort by priority descending, accept
// the first whose connector type matches the result (default matches
// anything) and whose condition, if present, evaluates truthy. Condition
// failures are treated as false and recorded as warnings so authors can
// fix the workflow. Falls back to a plain default-type connection, else
// resolves to nothing.
func (r *ConnectorResolver) Resolve(
	ctx context.Context,
	connections []schema.WorkflowConnection,
	ec *ExecutionContext,
	nodeID string,
	result *NodeExecutionResult,
) Resolution {
	candidates := outgoing(connections, nodeID, false)
	sortByPriority(candidates)

	res := Resolution{}
	scope := ec.ExpressionScope(result.Output)

	for _, conn := range candidates {
		if !connectorMatches(conn.ConnectorType, result.NextConnector) {
			continue
		}
		pass, warn := r.conditionHolds(ctx, conn, scope)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		if pass {
			res.TargetNodeID = conn.Target
			res.ConnectorType = connectorOrDefault(conn.ConnectorType)
			return res
		}
	}

	// Fallback: any default-type connection.
	for _, conn := range candidates {
		if connectorOrDefault(conn.ConnectorType) == schema.ConnectorDefault {
			res.TargetNodeID = conn.Target
			res.ConnectorType = schema.ConnectorDefault
			return res
		}
	}

	return res
}

// ResolveAll returns every connection that passes both the type and
// condition checks, in priority order. Used by the parallel-branch mode
// to fan out sibling branches.
func (r *ConnectorResolver) ResolveAll(
	ctx context.Context,
	connections []schema.WorkflowConnection,
	ec *ExecutionContext,
	nodeID string,
	result *NodeExecutionResult,
) []Resolution {
	candidates := outgoing(connections, nodeID, false)
	sortByPriority(candidates)

	scope := ec.ExpressionScope(result.Output)
	var all []Resolution
	for _, conn := range candidates {
		if !connectorMatches(conn.ConnectorType, result.NextConnector) {
			continue
		}
		pass, warn := r.conditionHolds(ctx, conn, scope)
		single := Resolution{}
		if warn != "" {
			single.Warnings = append(single.Warnings, warn)
		}
		if pass {
			single.TargetNodeID = conn.Target
			single.ConnectorType = connectorOrDefault(conn.ConnectorType)
			all = append(all, single)
		}
	}
	return all
}

// ResolveErrorHandler finds an error-handler connection for a failed
// node: connector type error, or any connection flagged is_error_handler.
func (r *ConnectorResolver) ResolveErrorHandler(
	connections []schema.WorkflowConnection,
	nodeID string,
) (string, bool) {
	candidates := outgoing(connections, nodeID, true)
	sortByPriority(candidates)

	for _, conn := range candidates {
		if conn.ConnectorType == schema.ConnectorError || conn.IsErrorHandler {
			return conn.Target, true
		}
	}
	return "", false
}

// conditionHolds evaluates a connection's condition against the scope.
// Missing conditions hold trivially. Evaluation failures are fail-closed.
func (r *ConnectorResolver) conditionHolds(ctx context.Context, conn schema.WorkflowConnection, scope map[string]any) (bool, string) {
	if conn.Condition == "" {
		return true, ""
	}
	ok, err := r.cel.EvaluateBool(ctx, conn.Condition, scope)
	if err != nil {
		return false, fmt.Sprintf("connection %s -> %s: condition %q failed to evaluate: %s",
			conn.Source, conn.Target, conn.Condition, err.Error())
	}
	return ok, ""
}

// outgoing filters connections by source. includeErrorHandlers controls
// whether error-handler edges are kept; normal resolution skips them.
func outgoing(connections []schema.WorkflowConnection, nodeID string, includeErrorHandlers bool) []schema.WorkflowConnection {
	var out []schema.WorkflowConnection
	for _, conn := range connections {
		if conn.Source != nodeID {
			continue
		}
		isHandler := conn.IsErrorHandler || conn.ConnectorType == schema.ConnectorError
		if isHandler != includeErrorHandlers {
			continue
		}
		out = append(out, conn)
	}
	return out
}

func sortByPriority(conns []schema.WorkflowConnection) {
	sort.SliceStable(conns, func(i, j int) bool {
		return conns[i].Priority > conns[j].Priority
	})
}

// connectorMatches reports whether a connection of type ct accepts a
// node result routed to connector want. Default (or untyped) connections
// accept anything.
func connectorMatches(ct, want schema.ConnectorType) bool {
	ct = connectorOrDefault(ct)
	if ct == schema.ConnectorDefault {
		return true
	}
	return ct == connectorOrDefault(want)
}

func connectorOrDefault(ct schema.ConnectorType) schema.ConnectorType {
	if ct == "" {
		return schema.ConnectorDefault
	}
	return ct
}
