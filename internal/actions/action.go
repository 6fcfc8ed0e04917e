package actions

import "context"

// Action is a named business operation dispatched by action nodes:
// credit checks, income verification, debt calculation, risk assessment,
// document requests, notifications, and generic data updates.
type Action interface {
	Name() string
	Describe() string
	Execute(ctx context.Context, input Input) (map[string]any, error)
}

// Invoker is the lookup surface the engine consumes.
type Invoker interface {
	Get(name string) (Action, error)
	Has(name string) bool
	List() []Info
}

// Input is the data provided to an action at execution time.
// Maps are read views; actions return their output rather than mutating.
type Input struct {
	Params    map[string]any
	Applicant map[string]any
	External  map[string]any
	Variables map[string]any
}

// Info is a summary of a registered action for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
