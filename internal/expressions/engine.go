package expressions

import "context"

// Engine evaluates expressions against the execution variable namespaces.
// Three implementations: CEL (connector and condition-node expressions),
// Expr (decision-node custom logic), GoJQ (data-source payload extraction).
// All three are deterministic and side-effect-free; none can reach the
// filesystem, network, or ambient process state.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
