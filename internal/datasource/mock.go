package datasource

import (
	"context"
	"hash/fnv"
)

// Mock clients for the external integrations the dashboard monitors.
// Payloads are derived deterministically from the applicant ID so the
// same execution input always produces the same decision, which the
// audit trail depends on. Params may override any derived field.

// RegisterMocks registers the full mock client set.
func RegisterMocks(reg *Registry) error {
	all := []Client{
		&creditBureauClient{},
		&incomeVerificationClient{},
		&fraudDetectionClient{},
		&kycClient{},
		&echoClient{sourceType: "database"},
		&echoClient{sourceType: "api"},
		&echoClient{sourceType: "file"},
	}
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// seed hashes the applicant id into a stable uint64.
func seed(params map[string]any) uint64 {
	id, _ := params["applicant_id"].(string)
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// override returns the params value for key when present, else the fallback.
func override(params map[string]any, key string, fallback any) any {
	if v, ok := params[key]; ok {
		return v
	}
	return fallback
}

type creditBureauClient struct{}

func (c *creditBureauClient) SourceType() string { return "credit_bureau" }

func (c *creditBureauClient) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	s := seed(params)
	score := float64(500 + s%350) // 500..849
	return map[string]any{
		"credit_score":      override(params, "credit_score", score),
		"open_accounts":     float64(1 + s%12),
		"delinquencies":     float64(s % 3),
		"inquiries_last_6m": float64(s % 5),
	}, nil
}

type incomeVerificationClient struct{}

func (c *incomeVerificationClient) SourceType() string { return "income_verification" }

func (c *incomeVerificationClient) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	s := seed(params)
	income := float64(25000 + s%100000)
	return map[string]any{
		"reported_income":  override(params, "reported_income", income),
		"employer_matched": s%10 != 0,
		"months_employed":  float64(3 + s%120),
	}, nil
}

type fraudDetectionClient struct{}

func (c *fraudDetectionClient) SourceType() string { return "fraud_detection" }

func (c *fraudDetectionClient) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	s := seed(params)
	riskScore := float64(s % 100)
	return map[string]any{
		"fraud_score":     override(params, "fraud_score", riskScore),
		"identity_match":  s%20 != 0,
		"velocity_alerts": float64(s % 2),
	}, nil
}

type kycClient struct{}

func (c *kycClient) SourceType() string { return "kyc" }

func (c *kycClient) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	s := seed(params)
	status := "clear"
	if s%25 == 0 {
		status = "flagged"
	}
	return map[string]any{
		"kyc_status":     override(params, "kyc_status", status),
		"watchlist_hit":  s%50 == 0,
		"document_valid": s%15 != 0,
	}, nil
}

// echoClient backs the generic database/api/file source types. It echoes
// its params as the payload, which is what the authoring UI's test
// fixtures provide.
type echoClient struct {
	sourceType string
}

func (c *echoClient) SourceType() string { return c.sourceType }

func (c *echoClient) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}
