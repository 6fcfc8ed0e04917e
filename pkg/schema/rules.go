package schema

// Operator enumerates the comparison operators a Condition supports.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpBetween            Operator = "between"
	OpIsNull             Operator = "is_null"
	OpIsNotNull          Operator = "is_not_null"
)

// Condition is a single field comparison against a literal value.
// Field is a dotted path resolved against the applicant namespace first,
// then external data, then the flat variable namespace.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	DataType string   `json:"data_type,omitempty"` // number | string | boolean
}

// LogicalOperator combines the boolean matches of a rule's conditions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// RuleActionType enumerates what a matched rule contributes to the
// aggregate decision.
type RuleActionType string

const (
	ActionApprove         RuleActionType = "approve"
	ActionDecline         RuleActionType = "decline"
	ActionReview          RuleActionType = "review"
	ActionSetScore        RuleActionType = "set_score"
	ActionAddFlag         RuleActionType = "add_flag"
	ActionRequireDocument RuleActionType = "require_document"
)

// RuleAction is one contribution of a matched rule.
type RuleAction struct {
	Type  RuleActionType `json:"type"`
	Value any            `json:"value,omitempty"` // score, flag name, document name, message
}

// Rule is a declarative condition-action unit.
type Rule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name,omitempty"`
	Conditions      []Condition     `json:"conditions"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty"` // default AND
	Actions         []RuleAction    `json:"actions"`
	Priority        int             `json:"priority,omitempty"`
	Enabled         bool            `json:"enabled"`
	Message         string          `json:"message,omitempty"`
}

// ExecutionOrder controls the order rules run within a set.
type ExecutionOrder string

const (
	OrderPriority ExecutionOrder = "priority" // descending priority
	OrderSequence ExecutionOrder = "sequence" // declaration order
)

// RuleSet is a named, ordered collection of rules.
type RuleSet struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Rules          []Rule         `json:"rules"`
	ExecutionOrder ExecutionOrder `json:"execution_order,omitempty"` // default priority
}

// Decision is the aggregate verdict of a rule-set evaluation.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDeclined Decision = "declined"
	DecisionReview   Decision = "review"
)

// ConditionResult is the outcome of evaluating one condition.
type ConditionResult struct {
	Matched     bool   `json:"matched"`
	ActualValue any    `json:"actual_value,omitempty"`
	Field       string `json:"field,omitempty"`
}

// RuleResult is the outcome of evaluating one rule.
type RuleResult struct {
	RuleID     string            `json:"rule_id"`
	Matched    bool              `json:"matched"`
	Conditions []ConditionResult `json:"conditions,omitempty"`
	Actions    []RuleAction      `json:"actions,omitempty"` // contributed only when matched
}

// RuleSetResult is the aggregate outcome of a rule-set evaluation.
// Aggregation contract: any decline action forces declined; else any
// approve with zero review actions yields approved; otherwise review.
// Score is the max over set_score actions; flags and required documents
// are deduplicated unions.
type RuleSetResult struct {
	Decision          Decision     `json:"decision"`
	Score             float64      `json:"score,omitempty"`
	Flags             []string     `json:"flags,omitempty"`
	RequiredDocuments []string     `json:"required_documents,omitempty"`
	Messages          []string     `json:"messages,omitempty"`
	MatchedRules      []string     `json:"matched_rules,omitempty"`
	RuleResults       []RuleResult `json:"rule_results,omitempty"`
}
