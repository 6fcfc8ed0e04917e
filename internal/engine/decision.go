package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// decisionOutcome pairs an outcome string with the executor's confidence
// in it.
type decisionOutcome struct {
	Outcome    string
	Confidence float64
}

// executeDecision evaluates a decision node in one of five modes and
// maps the outcome to a connector: an explicit outcome_connectors entry
// wins, else the built-in default mapping.
func (s *ExecutorSet) executeDecision(ctx context.Context, node *schema.WorkflowNode, cfg *schema.DecisionConfig, ec *ExecutionContext) *NodeExecutionResult {
	var (
		outcome decisionOutcome
		err     error
	)

	switch cfg.Mode {
	case schema.DecisionModeSimple:
		outcome, err = s.decideSimple(cfg, ec)
	case schema.DecisionModeComplex:
		outcome, err = s.decideComplex(ctx, cfg, ec)
	case schema.DecisionModeMultiple:
		outcome, err = s.decideMultiple(cfg, ec)
	case schema.DecisionModeScoreBased:
		outcome, err = s.decideScoreBased(cfg, ec)
	case schema.DecisionModeThreshold:
		outcome, err = s.decideThreshold(cfg, ec)
	default:
		err = schema.NewErrorf(schema.ErrCodeNodeExecution, "unknown decision mode %q", cfg.Mode)
	}

	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	return &NodeExecutionResult{
		Success: true,
		Output: map[string]any{
			"decision_outcome":    outcome.Outcome,
			"decision_confidence": outcome.Confidence,
		},
		NextConnector: outcomeConnector(cfg, outcome.Outcome),
	}
}

// decideSimple evaluates a single condition.
func (s *ExecutorSet) decideSimple(cfg *schema.DecisionConfig, ec *ExecutionContext) (decisionOutcome, error) {
	if cfg.Condition == nil {
		return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
			"simple decision has no condition")
	}
	cr := s.evaluator.Evaluate(*cfg.Condition, ec.DataContext())
	return decisionOutcome{Outcome: boolOutcome(cr.Matched), Confidence: 1.0}, nil
}

// decideComplex combines N condition results with AND/OR, or with a
// custom boolean formula over c0..cN evaluated by the expr engine.
// Confidence is the fraction of conditions that matched.
func (s *ExecutorSet) decideComplex(ctx context.Context, cfg *schema.DecisionConfig, ec *ExecutionContext) (decisionOutcome, error) {
	if len(cfg.Conditions) == 0 {
		return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
			"complex decision has no conditions")
	}

	data := ec.DataContext()
	matchedCount := 0
	env := make(map[string]any, len(cfg.Conditions))
	results := make([]bool, len(cfg.Conditions))
	for i, cond := range cfg.Conditions {
		cr := s.evaluator.Evaluate(cond, data)
		results[i] = cr.Matched
		env[fmt.Sprintf("c%d", i)] = cr.Matched
		if cr.Matched {
			matchedCount++
		}
	}

	var matched bool
	switch cfg.Logic {
	case "", "AND":
		matched = matchedCount == len(results)
	case "OR":
		matched = matchedCount > 0
	case "custom":
		if cfg.CustomLogic == "" {
			return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
				"complex decision with custom logic has no formula")
		}
		out, err := s.expr.Evaluate(ctx, cfg.CustomLogic, env)
		if err != nil {
			return decisionOutcome{}, err
		}
		b, ok := out.(bool)
		if !ok {
			return decisionOutcome{}, schema.NewErrorf(schema.ErrCodeInvalidCondition,
				"custom logic %q returned %T, want bool", cfg.CustomLogic, out)
		}
		matched = b
	default:
		return decisionOutcome{}, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"unknown decision logic %q", cfg.Logic)
	}

	confidence := float64(matchedCount) / float64(len(results))
	if !matched {
		confidence = 1 - confidence
	}
	return decisionOutcome{Outcome: boolOutcome(matched), Confidence: confidence}, nil
}

// decideMultiple takes the first matching option, else the configured
// default.
func (s *ExecutorSet) decideMultiple(cfg *schema.DecisionConfig, ec *ExecutionContext) (decisionOutcome, error) {
	if len(cfg.Options) == 0 {
		return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
			"multiple decision has no options")
	}

	data := ec.DataContext()
	for _, opt := range cfg.Options {
		if s.evaluator.Evaluate(opt.Condition, data).Matched {
			return decisionOutcome{Outcome: opt.Outcome, Confidence: 1.0}, nil
		}
	}

	if cfg.DefaultOutcome == "" {
		return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
			"no option matched and no default outcome configured")
	}
	return decisionOutcome{Outcome: cfg.DefaultOutcome, Confidence: 0.5}, nil
}

// decideScoreBased buckets a numeric variable into
// excellent/good/fair/poor via the configured thresholds.
func (s *ExecutorSet) decideScoreBased(cfg *schema.DecisionConfig, ec *ExecutionContext) (decisionOutcome, error) {
	if cfg.Variable == "" || cfg.Thresholds == nil {
		return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
			"score_based decision needs a variable and thresholds")
	}

	v, ok := resolveNumber(ec, cfg.Variable)
	if !ok {
		return decisionOutcome{}, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"variable %q is not numeric", cfg.Variable)
	}

	t := cfg.Thresholds
	switch {
	case v >= t.Excellent:
		return decisionOutcome{Outcome: "excellent", Confidence: 0.95}, nil
	case v >= t.Good:
		return decisionOutcome{Outcome: "good", Confidence: 0.8}, nil
	case v >= t.Fair:
		return decisionOutcome{Outcome: "fair", Confidence: 0.6}, nil
	default:
		return decisionOutcome{Outcome: "poor", Confidence: 0.9}, nil
	}
}

// decideThreshold compares one variable against one threshold with a
// configurable comparison operator (default greater_than_or_equal).
// Confidence grows with the relative distance from the threshold.
func (s *ExecutorSet) decideThreshold(cfg *schema.DecisionConfig, ec *ExecutionContext) (decisionOutcome, error) {
	if cfg.Variable == "" || cfg.Threshold == nil {
		return decisionOutcome{}, schema.NewError(schema.ErrCodeNodeExecution,
			"threshold decision needs a variable and threshold")
	}

	v, ok := resolveNumber(ec, cfg.Variable)
	if !ok {
		return decisionOutcome{}, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"variable %q is not numeric", cfg.Variable)
	}

	threshold := *cfg.Threshold
	var above bool
	switch cfg.Comparison {
	case "", "greater_than_or_equal":
		above = v >= threshold
	case "greater_than":
		above = v > threshold
	case "less_than":
		above = v < threshold
	case "less_than_or_equal":
		above = v <= threshold
	case "equals":
		above = v == threshold
	default:
		return decisionOutcome{}, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"unknown comparison %q", cfg.Comparison)
	}

	denom := math.Max(math.Abs(threshold), 1)
	confidence := math.Min(0.5+math.Abs(v-threshold)/denom, 1.0)

	outcome := "below"
	if above {
		outcome = "above"
	}
	return decisionOutcome{Outcome: outcome, Confidence: confidence}, nil
}

// outcomeConnector maps an outcome to a connector: explicit map first,
// then the built-in default mapping.
func outcomeConnector(cfg *schema.DecisionConfig, outcome string) schema.ConnectorType {
	if ct, ok := cfg.OutcomeConnectors[outcome]; ok {
		return ct
	}
	switch outcome {
	case "true", "above", "excellent", "good":
		return schema.ConnectorTrue
	case "false", "below", "poor":
		return schema.ConnectorFalse
	case "fair", "review":
		return schema.ConnectorReview
	default:
		return schema.ConnectorDefault
	}
}

// resolveNumber resolves a dotted variable path to a float64 through the
// rule-evaluation namespaces.
func resolveNumber(ec *ExecutionContext, path string) (float64, bool) {
	v, ok := ec.DataContext().Resolve(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func boolOutcome(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
