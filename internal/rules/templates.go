package rules

import "github.com/creditkit/decisionflow/pkg/schema"

// Template names resolvable via TemplateRuleSet.
const (
	TemplateStandardLoan = "standard_loan"
)

// TemplateRuleSet returns a copy of a built-in rule template by name.
// The second return is false for unknown names.
func TemplateRuleSet(name string) (schema.RuleSet, bool) {
	switch name {
	case TemplateStandardLoan:
		return standardLoanRuleSet(), true
	default:
		return schema.RuleSet{}, false
	}
}

// standardLoanRuleSet is the default consumer-loan decisioning template.
// Thresholds mirror common underwriting cutoffs: sub-600 credit or DTI
// above 50% auto-declines, 740+ with healthy DTI and income auto-approves,
// the mid band goes to manual review.
func standardLoanRuleSet() schema.RuleSet {
	return schema.RuleSet{
		ID:             "standard_loan",
		Name:           "Standard Loan Decisioning",
		ExecutionOrder: schema.OrderPriority,
		Rules: []schema.Rule{
			{
				ID:       "decline_low_credit",
				Name:     "Decline: credit score below 600",
				Priority: 100,
				Enabled:  true,
				Conditions: []schema.Condition{
					{Field: "credit_score", Operator: schema.OpLessThan, Value: 600, DataType: "number"},
				},
				Actions: []schema.RuleAction{
					{Type: schema.ActionDecline},
					{Type: schema.ActionAddFlag, Value: "low_credit_score"},
				},
				Message: "Credit score below minimum threshold",
			},
			{
				ID:       "decline_high_dti",
				Name:     "Decline: debt-to-income above 50%",
				Priority: 100,
				Enabled:  true,
				Conditions: []schema.Condition{
					{Field: "debt_to_income", Operator: schema.OpGreaterThan, Value: 0.5, DataType: "number"},
				},
				Actions: []schema.RuleAction{
					{Type: schema.ActionDecline},
					{Type: schema.ActionAddFlag, Value: "high_dti"},
				},
				Message: "Debt-to-income ratio above maximum threshold",
			},
			{
				ID:              "approve_prime",
				Name:            "Approve: prime applicant",
				Priority:        90,
				Enabled:         true,
				LogicalOperator: schema.LogicalAnd,
				Conditions: []schema.Condition{
					{Field: "credit_score", Operator: schema.OpGreaterThanOrEqual, Value: 740, DataType: "number"},
					{Field: "debt_to_income", Operator: schema.OpLessThanOrEqual, Value: 0.35, DataType: "number"},
					{Field: "annual_income", Operator: schema.OpGreaterThanOrEqual, Value: 50000, DataType: "number"},
				},
				Actions: []schema.RuleAction{
					{Type: schema.ActionApprove},
					{Type: schema.ActionSetScore, Value: 95},
				},
			},
			{
				ID:       "review_mid_band",
				Name:     "Review: mid-band credit score",
				Priority: 50,
				Enabled:  true,
				Conditions: []schema.Condition{
					{Field: "credit_score", Operator: schema.OpBetween, Value: []any{600, 739}, DataType: "number"},
				},
				Actions: []schema.RuleAction{
					{Type: schema.ActionReview},
					{Type: schema.ActionSetScore, Value: 60},
					{Type: schema.ActionRequireDocument, Value: "bank_statement"},
				},
				Message: "Mid-band credit score requires manual review",
			},
			{
				ID:       "review_low_income",
				Name:     "Review: income below 40k",
				Priority: 40,
				Enabled:  true,
				Conditions: []schema.Condition{
					{Field: "annual_income", Operator: schema.OpLessThan, Value: 40000, DataType: "number"},
				},
				Actions: []schema.RuleAction{
					{Type: schema.ActionReview},
					{Type: schema.ActionRequireDocument, Value: "proof_of_income"},
				},
				Message: "Income below comfort threshold",
			},
		},
	}
}
