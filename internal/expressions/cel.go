package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// scopeVars are the top-level variables exposed to every condition
// expression. Missing keys default to empty maps at evaluation time.
var scopeVars = []string{"applicant", "external", "variables", "input", "output"}

// CELEngine implements the Engine interface using Google's Common
// Expression Language. It evaluates connector conditions and
// condition-node expressions inside a sandboxed environment: only the
// documented variables and helper functions are reachable, with no
// ambient scope, I/O, or mutation capability.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL condition engine. The environment
// exposes five top-level variables:
//   - applicant: map(string, dyn) — application data namespace
//   - external:  map(string, dyn) — data-source payloads keyed by source
//   - variables: map(string, dyn) — flat execution variables
//   - input:     map(string, dyn) — read-only invocation input
//   - output:    map(string, dyn) — current node's output (connector conditions)
//
// plus three helper functions: isEmpty(v), contains(container, item),
// between(v, lo, hi).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := []cel.EnvOption{
		cel.Function("isEmpty",
			cel.Overload("isEmpty_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(celIsEmpty))),
		cel.Function("contains",
			cel.Overload("contains_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.BoolType,
				cel.BinaryBinding(celContains))),
		cel.Function("between",
			cel.Overload("between_dyn_double_double",
				[]*cel.Type{cel.DynType, cel.DoubleType, cel.DoubleType}, cel.BoolType,
				cel.FunctionBinding(celBetween))),
	}
	for _, name := range scopeVars {
		opts = append(opts, cel.Variable(name, mapType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and
// evaluates it against the provided data. The data map should contain
// keys matching the environment variables; missing keys default to
// empty maps to avoid runtime nil-ref errors.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidCondition, "empty condition expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"condition evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// EvaluateBool evaluates the expression and coerces the result to a
// boolean. Non-boolean results follow JSON truthiness: nil and false are
// false, everything else is true.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return true, nil
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"condition compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"condition program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation creates the evaluation activation map from the data.
// Missing keys default to empty maps.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(scopeVars))
	for _, key := range scopeVars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

// --- helper function implementations ---

func celIsEmpty(v ref.Val) ref.Val {
	if v == nil || v.Type() == types.NullType {
		return types.True
	}
	if sz, ok := v.(traits.Sizer); ok {
		return types.Bool(sz.Size().Equal(types.Int(0)) == types.True)
	}
	return types.False
}

func celContains(container, item ref.Val) ref.Val {
	if s, ok := container.Value().(string); ok {
		sub, ok := item.Value().(string)
		if !ok {
			return types.False
		}
		return types.Bool(strings.Contains(strings.ToLower(s), strings.ToLower(sub)))
	}
	if ctr, ok := container.(traits.Container); ok {
		return ctr.Contains(item)
	}
	return types.False
}

func celBetween(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("between requires exactly 3 arguments")
	}
	v, ok := toFloat(args[0].Value())
	if !ok {
		return types.False
	}
	lo, ok := toFloat(args[1].Value())
	if !ok {
		return types.False
	}
	hi, ok := toFloat(args[2].Value())
	if !ok {
		return types.False
	}
	return types.Bool(v >= lo && v <= hi)
}

// toFloat coerces numeric Go values to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ Engine = (*CELEngine)(nil)
