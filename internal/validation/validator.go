package validation

import "github.com/creditkit/decisionflow/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup answers whether a named action is registered; used to
// catch dangling action references at validation time. May be nil to
// skip the check.
type ActionLookup interface {
	Has(name string) bool
}
