package actions

import (
	"context"
	"time"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// funcAction adapts a plain function to the Action interface.
type funcAction struct {
	name     string
	describe string
	fn       func(ctx context.Context, input Input) (map[string]any, error)
}

func (a *funcAction) Name() string     { return a.name }
func (a *funcAction) Describe() string { return a.describe }
func (a *funcAction) Execute(ctx context.Context, input Input) (map[string]any, error) {
	return a.fn(ctx, input)
}

// RegisterBuiltins registers all built-in business actions.
func RegisterBuiltins(reg *Registry) error {
	all := []Action{
		creditCheckAction(),
		verifyIncomeAction(),
		calculateDebtRatioAction(),
		riskAssessmentAction(),
		requestDocumentsAction(),
		sendNotificationAction(),
		updateDataAction(),
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// lookupNumber resolves a numeric field from applicant data first, then
// external data, then variables.
func lookupNumber(input Input, field string) (float64, bool) {
	for _, ns := range []map[string]any{input.Applicant, input.External, input.Variables} {
		if ns == nil {
			continue
		}
		if v, ok := ns[field]; ok {
			if n, ok := toNumber(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
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

func creditCheckAction() Action {
	return &funcAction{
		name:     "credit_check",
		describe: "Pulls the applicant's credit score and derogatory marks",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			score, ok := lookupNumber(input, "credit_score")
			if !ok {
				return nil, schema.NewError(schema.ErrCodeNodeExecution,
					"credit_check: no credit_score available in context")
			}
			return map[string]any{
				"credit_check": map[string]any{
					"credit_score":     score,
					"derogatory_marks": score < 600,
					"checked_at":       time.Now().UTC().Format(time.RFC3339),
				},
			}, nil
		},
	}
}

func verifyIncomeAction() Action {
	return &funcAction{
		name:     "verify_income",
		describe: "Verifies stated income against reported income data",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			stated, okStated := lookupNumber(input, "annual_income")
			reported, okReported := lookupNumber(input, "reported_income")
			if !okReported {
				reported, okReported = stated, okStated
			}
			if !okStated {
				return nil, schema.NewError(schema.ErrCodeNodeExecution,
					"verify_income: no annual_income available in context")
			}

			variance := 0.0
			if reported > 0 {
				variance = (stated - reported) / reported
				if variance < 0 {
					variance = -variance
				}
			}
			return map[string]any{
				"income_verification": map[string]any{
					"stated_income":   stated,
					"reported_income": reported,
					"variance":        variance,
					"verified":        variance <= 0.1,
				},
			}, nil
		},
	}
}

func calculateDebtRatioAction() Action {
	return &funcAction{
		name:     "calculate_debt_ratio",
		describe: "Computes the applicant's debt-to-income ratio",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			income, okIncome := lookupNumber(input, "annual_income")
			monthlyDebt, okDebt := lookupNumber(input, "monthly_debt_payments")
			if !okIncome || income <= 0 {
				return nil, schema.NewError(schema.ErrCodeNodeExecution,
					"calculate_debt_ratio: annual_income missing or non-positive")
			}
			if !okDebt {
				monthlyDebt = 0
			}
			dti := (monthlyDebt * 12) / income
			return map[string]any{
				"debt_to_income": dti,
			}, nil
		},
	}
}

func riskAssessmentAction() Action {
	return &funcAction{
		name:     "risk_assessment",
		describe: "Scores overall applicant risk from credit score and DTI",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			score, okScore := lookupNumber(input, "credit_score")
			dti, okDTI := lookupNumber(input, "debt_to_income")
			if !okScore {
				return nil, schema.NewError(schema.ErrCodeNodeExecution,
					"risk_assessment: no credit_score available in context")
			}
			if !okDTI {
				dti = 0
			}

			// Risk score: credit contributes up to 70 points, DTI up to 30.
			riskScore := (score / 850) * 70
			riskScore += (1 - minFloat(dti, 1)) * 30

			tier := "high"
			switch {
			case riskScore >= 75:
				tier = "low"
			case riskScore >= 55:
				tier = "medium"
			}
			return map[string]any{
				"risk_assessment": map[string]any{
					"risk_score": riskScore,
					"risk_tier":  tier,
				},
			}, nil
		},
	}
}

func requestDocumentsAction() Action {
	return &funcAction{
		name:     "request_documents",
		describe: "Requests additional documents from the applicant",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			docs, _ := input.Params["documents"].([]any)
			return map[string]any{
				"document_request": map[string]any{
					"documents": docs,
					"status":    "requested",
				},
			}, nil
		},
	}
}

func sendNotificationAction() Action {
	return &funcAction{
		name:     "send_notification",
		describe: "Sends a notification through the configured channel",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			channel, _ := input.Params["channel"].(string)
			if channel == "" {
				channel = "email"
			}
			template, _ := input.Params["template"].(string)
			return map[string]any{
				"notification": map[string]any{
					"channel":  channel,
					"template": template,
					"sent":     true,
				},
			}, nil
		},
	}
}

func updateDataAction() Action {
	return &funcAction{
		name:     "update_data",
		describe: "Writes the configured key-value pairs into the execution variables",
		fn: func(ctx context.Context, input Input) (map[string]any, error) {
			set, ok := input.Params["set"].(map[string]any)
			if !ok || len(set) == 0 {
				return nil, schema.NewError(schema.ErrCodeNodeExecution,
					"update_data: params.set must be a non-empty object")
			}
			out := make(map[string]any, len(set))
			for k, v := range set {
				out[k] = v
			}
			return out, nil
		},
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
