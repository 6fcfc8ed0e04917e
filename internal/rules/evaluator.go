package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// Evaluator evaluates conditions, rules, and rule sets against a
// DataContext. It is stateless and safe for concurrent use; results are
// produced fresh per evaluation.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate evaluates a single condition. Unresolved fields match only
// the is_null operator.
func (e *Evaluator) Evaluate(cond schema.Condition, data *DataContext) schema.ConditionResult {
	actual, resolved := data.Resolve(cond.Field)

	result := schema.ConditionResult{Field: cond.Field}
	if resolved {
		result.ActualValue = actual
	}

	switch cond.Operator {
	case schema.OpIsNull:
		result.Matched = !resolved || actual == nil
		return result
	case schema.OpIsNotNull:
		result.Matched = resolved && actual != nil
		return result
	}

	if !resolved || actual == nil {
		return result
	}

	result.Matched = matchOperator(cond.Operator, actual, cond.Value)
	return result
}

// EvaluateRule evaluates all of a rule's conditions and combines their
// matches with the rule's logical operator (default AND). A matched rule
// contributes its actions.
func (e *Evaluator) EvaluateRule(rule schema.Rule, data *DataContext) schema.RuleResult {
	result := schema.RuleResult{RuleID: rule.ID}

	matched := rule.LogicalOperator != schema.LogicalOr
	for _, cond := range rule.Conditions {
		cr := e.Evaluate(cond, data)
		result.Conditions = append(result.Conditions, cr)

		if rule.LogicalOperator == schema.LogicalOr {
			matched = matched || cr.Matched
		} else {
			matched = matched && cr.Matched
		}
	}

	result.Matched = matched
	if matched {
		result.Actions = rule.Actions
	}
	return result
}

// EvaluateRuleSet runs the set's enabled rules in execution order and
// aggregates their contributions.
//
// Aggregation contract (exact precedence; changing it changes loan
// outcomes): any decline action forces declined; else any approve action
// with zero review actions yields approved; otherwise review. Score is
// the max over set_score actions; flags and required documents are
// deduplicated unions.
func (e *Evaluator) EvaluateRuleSet(rs schema.RuleSet, data *DataContext) *schema.RuleSetResult {
	ordered := orderRules(rs)

	result := &schema.RuleSetResult{}
	var hasApprove, hasDecline, hasReview bool

	for _, rule := range ordered {
		if !rule.Enabled {
			continue
		}

		rr := e.EvaluateRule(rule, data)
		result.RuleResults = append(result.RuleResults, rr)
		if !rr.Matched {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, rule.ID)
		if rule.Message != "" {
			result.Messages = append(result.Messages, rule.Message)
		}

		for _, action := range rr.Actions {
			switch action.Type {
			case schema.ActionApprove:
				hasApprove = true
			case schema.ActionDecline:
				hasDecline = true
			case schema.ActionReview:
				hasReview = true
			case schema.ActionSetScore:
				if score, ok := toNumber(action.Value); ok && score > result.Score {
					result.Score = score
				}
			case schema.ActionAddFlag:
				result.Flags = appendUnique(result.Flags, toString(action.Value))
			case schema.ActionRequireDocument:
				result.RequiredDocuments = appendUnique(result.RequiredDocuments, toString(action.Value))
			}
		}
	}

	switch {
	case hasDecline:
		result.Decision = schema.DecisionDeclined
	case hasApprove && !hasReview:
		result.Decision = schema.DecisionApproved
	default:
		result.Decision = schema.DecisionReview
	}

	return result
}

// EvaluateRules wraps a loose rule list as a priority-ordered set.
func (e *Evaluator) EvaluateRules(ruleList []schema.Rule, data *DataContext) *schema.RuleSetResult {
	return e.EvaluateRuleSet(schema.RuleSet{
		Rules:          ruleList,
		ExecutionOrder: schema.OrderPriority,
	}, data)
}

// orderRules returns the set's rules in execution order: descending
// priority (stable) by default, declaration order for sequence sets.
func orderRules(rs schema.RuleSet) []schema.Rule {
	ordered := make([]schema.Rule, len(rs.Rules))
	copy(ordered, rs.Rules)

	if rs.ExecutionOrder != schema.OrderSequence {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority > ordered[j].Priority
		})
	}
	return ordered
}

// matchOperator applies a comparison operator to a resolved value.
func matchOperator(op schema.Operator, actual, expected any) bool {
	switch op {
	case schema.OpEquals:
		return looseEqual(actual, expected)
	case schema.OpNotEquals:
		return !looseEqual(actual, expected)
	case schema.OpGreaterThan:
		a, b, ok := bothNumbers(actual, expected)
		return ok && a > b
	case schema.OpLessThan:
		a, b, ok := bothNumbers(actual, expected)
		return ok && a < b
	case schema.OpGreaterThanOrEqual:
		a, b, ok := bothNumbers(actual, expected)
		return ok && a >= b
	case schema.OpLessThanOrEqual:
		a, b, ok := bothNumbers(actual, expected)
		return ok && a <= b
	case schema.OpContains:
		return strings.Contains(toLower(actual), toLower(expected))
	case schema.OpNotContains:
		return !strings.Contains(toLower(actual), toLower(expected))
	case schema.OpStartsWith:
		return strings.HasPrefix(toLower(actual), toLower(expected))
	case schema.OpEndsWith:
		return strings.HasSuffix(toLower(actual), toLower(expected))
	case schema.OpIn:
		return inList(actual, expected)
	case schema.OpNotIn:
		return !inList(actual, expected)
	case schema.OpBetween:
		bounds, ok := expected.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		v, okV := toNumber(actual)
		lo, okLo := toNumber(bounds[0])
		hi, okHi := toNumber(bounds[1])
		return okV && okLo && okHi && v >= lo && v <= hi
	default:
		return false
	}
}

// looseEqual compares for equality with numeric coercion and
// case-insensitive strings.
func looseEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(as, bs)
		}
		return false
	}
	return a == b
}

func inList(actual, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(actual, item) {
			return true
		}
	}
	return false
}

func bothNumbers(a, b any) (float64, float64, bool) {
	an, okA := toNumber(a)
	bn, okB := toNumber(b)
	return an, bn, okA && okB
}

// toNumber coerces numeric values (and numeric strings) to float64.
func toNumber(v any) (float64, bool) {
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
	case string:
		return parseNumber(n)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toLower(v any) string {
	s, _ := v.(string)
	return strings.ToLower(s)
}

func appendUnique(list []string, item string) []string {
	if item == "" {
		return list
	}
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
