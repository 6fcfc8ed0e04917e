package schema

import "encoding/json"

// Per-node-type configuration structs. WorkflowNode.Data decodes into
// exactly one of these depending on WorkflowNode.Type, so executors can
// switch exhaustively instead of probing loose maps.

// StartConfig configures a start node.
type StartConfig struct {
	// InitialVariables are merged into the execution variables after the
	// input data, so explicit authoring-time defaults win over nothing
	// but lose to caller input.
	InitialVariables map[string]any `json:"initial_variables,omitempty"`
}

// ConditionConfig configures a condition node: a single boolean CEL
// expression routed via the true/false connectors.
type ConditionConfig struct {
	Expression string `json:"expression"`
	Label      string `json:"label,omitempty"`
}

// DecisionMode selects how a decision node computes its outcome.
type DecisionMode string

const (
	DecisionModeSimple     DecisionMode = "simple"
	DecisionModeComplex    DecisionMode = "complex"
	DecisionModeMultiple   DecisionMode = "multiple"
	DecisionModeScoreBased DecisionMode = "score_based"
	DecisionModeThreshold  DecisionMode = "threshold"
)

// DecisionConfig configures a decision node. Exactly which fields apply
// depends on Mode.
type DecisionConfig struct {
	Mode DecisionMode `json:"mode"`

	// simple: one condition.
	Condition *Condition `json:"condition,omitempty"`

	// complex: N conditions combined by AND/OR, or by a custom boolean
	// formula over condition results (c0..cN) evaluated with expr.
	Conditions  []Condition `json:"conditions,omitempty"`
	Logic       string      `json:"logic,omitempty"`        // AND | OR | custom
	CustomLogic string      `json:"custom_logic,omitempty"` // e.g. "(c0 && c1) || c2"

	// multiple: first matching option wins, else DefaultOutcome.
	Options        []DecisionOption `json:"options,omitempty"`
	DefaultOutcome string           `json:"default_outcome,omitempty"`

	// score_based: bucket Variable into excellent/good/fair/poor.
	Variable   string           `json:"variable,omitempty"`
	Thresholds *ScoreThresholds `json:"thresholds,omitempty"`

	// threshold: compare Variable against Threshold with Comparison.
	Threshold  *float64 `json:"threshold,omitempty"`
	Comparison string   `json:"comparison,omitempty"` // greater_than, less_than, ...

	// OutcomeConnectors maps an outcome string to the connector to follow.
	// Outcomes absent from the map use the built-in default mapping.
	OutcomeConnectors map[string]ConnectorType `json:"outcome_connectors,omitempty"`
}

// DecisionOption is one candidate outcome in a multiple-mode decision node.
type DecisionOption struct {
	Outcome   string    `json:"outcome"`
	Condition Condition `json:"condition"`
}

// ScoreThresholds are the bucket lower bounds for score_based decisions.
// A value v buckets as excellent if v >= Excellent, else good if
// v >= Good, else fair if v >= Fair, else poor.
type ScoreThresholds struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Fair      float64 `json:"fair"`
}

// RuleSetConfig configures a rule_set node. Either a full RuleSet or a
// loose list of rules (treated as a priority-ordered set).
type RuleSetConfig struct {
	RuleSet *RuleSet `json:"rule_set,omitempty"`
	Rules   []Rule   `json:"rules,omitempty"`
	// Template names a built-in rule template (e.g. "standard_loan") used
	// when neither RuleSet nor Rules is present.
	Template string `json:"template,omitempty"`
}

// ActionConfig configures an action node: a named business operation
// dispatched through the action registry.
type ActionConfig struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
	// OutputKey is the variables key the action result is stored under.
	// When empty, the result map is merged directly into the variables.
	OutputKey string `json:"output_key,omitempty"`
	// Async marks the action as awaiting an external callback (e.g.
	// manual approval): the executor registers an async operation
	// instead of invoking the action inline.
	Async bool `json:"async,omitempty"`
	// AsyncReason is recorded on the async operation. Defaults to the
	// action name.
	AsyncReason string `json:"async_reason,omitempty"`
}

// DataSourceConfig configures a data_source node.
type DataSourceConfig struct {
	// SourceType names the registered data source client: credit_bureau,
	// income_verification, fraud_detection, kyc, database, api, file.
	SourceType string          `json:"source_type"`
	Params     json.RawMessage `json:"params,omitempty"`
	// OutputKey is the variables key the raw payload lands under.
	// Defaults to "external." + SourceType.
	OutputKey string `json:"output_key,omitempty"`
	// Extract, when present, is a jq expression applied to the payload;
	// its result replaces the raw payload in the output.
	Extract string `json:"extract,omitempty"`
}

// EndConfig configures an end node.
type EndConfig struct {
	// DecisionKey names the variable holding the final decision payload.
	// Defaults to "decision".
	DecisionKey string `json:"decision_key,omitempty"`
	// Outcome, when set, overrides the decision outcome (e.g. an end node
	// dedicated to the declined path).
	Outcome string `json:"outcome,omitempty"`
}

// DecodeNodeConfig unmarshals a node's raw data into its typed config.
// Returns the zero config when data is empty. The returned value is one
// of *StartConfig, *ConditionConfig, *DecisionConfig, *RuleSetConfig,
// *ActionConfig, *DataSourceConfig, *EndConfig.
func DecodeNodeConfig(node *WorkflowNode) (any, error) {
	decode := func(v any) (any, error) {
		if len(node.Data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(node.Data, v); err != nil {
			return nil, NewErrorf(ErrCodeValidation,
				"node %s has invalid %s config: %s", node.ID, node.Type, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		return v, nil
	}

	switch node.Type {
	case NodeTypeStart:
		return decode(&StartConfig{})
	case NodeTypeCondition:
		return decode(&ConditionConfig{})
	case NodeTypeDecision:
		return decode(&DecisionConfig{})
	case NodeTypeRuleSet:
		return decode(&RuleSetConfig{})
	case NodeTypeAction, NodeTypeValidation, NodeTypeIntegration,
		NodeTypeNotification, NodeTypeAIDecision, NodeTypeBatchProcess,
		NodeTypeAuditLog:
		return decode(&ActionConfig{})
	case NodeTypeDataSource:
		return decode(&DataSourceConfig{})
	case NodeTypeEnd:
		return decode(&EndConfig{})
	default:
		return nil, NewErrorf(ErrCodeValidation, "node %s has unknown type: %s", node.ID, node.Type).
			WithNode(node.ID)
	}
}
