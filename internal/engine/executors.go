package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creditkit/decisionflow/internal/actions"
	"github.com/creditkit/decisionflow/internal/datasource"
	"github.com/creditkit/decisionflow/internal/expressions"
	"github.com/creditkit/decisionflow/internal/rules"
	"github.com/creditkit/decisionflow/internal/secrets"
	"github.com/creditkit/decisionflow/pkg/schema"
)

// ExecutorSet dispatches node execution to the per-type executor.
// Executors never propagate failures: every internal error (including
// panics) becomes a NodeExecutionResult with Success false and the
// error connector, which the engine relies on for error routing.
type ExecutorSet struct {
	cel       *expressions.CELEngine
	expr      *expressions.ExprEngine
	jq        *expressions.GoJQEngine
	evaluator *rules.Evaluator
	invoker   actions.Invoker
	sources   *datasource.Registry
	vault     secrets.Vault
}

// WithVault attaches a credentials vault. Data-source fetches get a
// "credentials" param with the decoded credential object stored under
// the source type's vault key, when one exists.
func (s *ExecutorSet) WithVault(v secrets.Vault) *ExecutorSet {
	s.vault = v
	return s
}

// NewExecutorSet creates the executor set with its collaborators.
func NewExecutorSet(
	cel *expressions.CELEngine,
	exprEngine *expressions.ExprEngine,
	jq *expressions.GoJQEngine,
	evaluator *rules.Evaluator,
	invoker actions.Invoker,
	sources *datasource.Registry,
) *ExecutorSet {
	return &ExecutorSet{
		cel:       cel,
		expr:      exprEngine,
		jq:        jq,
		evaluator: evaluator,
		invoker:   invoker,
		sources:   sources,
	}
}

// Execute runs one node against the execution context and returns its
// result. The returned result always has DurationMs set.
func (s *ExecutorSet) Execute(ctx context.Context, node *schema.WorkflowNode, ec *ExecutionContext) (result *NodeExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = failureResult(node.ID, schema.NewErrorf(schema.ErrCodeNodeExecution,
				"panic in %s executor: %v", node.Type, r).WithNode(node.ID))
		}
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	cfg, err := schema.DecodeNodeConfig(node)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	switch c := cfg.(type) {
	case *schema.StartConfig:
		return s.executeStart(c, ec)
	case *schema.ConditionConfig:
		return s.executeCondition(ctx, node, c, ec)
	case *schema.DecisionConfig:
		return s.executeDecision(ctx, node, c, ec)
	case *schema.RuleSetConfig:
		return s.executeRuleSet(node, c, ec)
	case *schema.ActionConfig:
		return s.executeAction(ctx, node, c, ec)
	case *schema.DataSourceConfig:
		return s.executeDataSource(ctx, node, c, ec)
	case *schema.EndConfig:
		return s.executeEnd(c, ec)
	default:
		return failureResult(node.ID, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"no executor for node type %s", node.Type).WithNode(node.ID))
	}
}

// executeStart seeds the variables from the invocation input. Explicit
// initial variables lose to caller input on key conflicts; per-run
// variable overrides win over both.
func (s *ExecutorSet) executeStart(cfg *schema.StartConfig, ec *ExecutionContext) *NodeExecutionResult {
	output := make(map[string]any, len(cfg.InitialVariables)+len(ec.InputData)+len(ec.VariableOverrides))
	for k, v := range cfg.InitialVariables {
		output[k] = v
	}
	for k, v := range deepCopyMap(ec.InputData) {
		output[k] = v
	}
	for k, v := range deepCopyMap(ec.VariableOverrides) {
		output[k] = v
	}
	return &NodeExecutionResult{
		Success:       true,
		Output:        output,
		NextConnector: schema.ConnectorSuccess,
	}
}

// executeCondition evaluates a single boolean expression and routes via
// the true/false connectors. Evaluation failures are fail-closed: the
// false branch is taken and a warning is recorded for the author.
func (s *ExecutorSet) executeCondition(ctx context.Context, node *schema.WorkflowNode, cfg *schema.ConditionConfig, ec *ExecutionContext) *NodeExecutionResult {
	if cfg.Expression == "" {
		return failureResult(node.ID, schema.NewError(schema.ErrCodeInvalidCondition,
			"condition node has no expression").WithNode(node.ID))
	}

	matched, err := s.cel.EvaluateBool(ctx, cfg.Expression, ec.ExpressionScope(nil))
	if err != nil {
		matched = false
		ec.Warnings = append(ec.Warnings, fmt.Sprintf(
			"node %s: condition %q failed to evaluate, taking false branch: %s",
			node.ID, cfg.Expression, err.Error()))
	}

	connector := schema.ConnectorFalse
	if matched {
		connector = schema.ConnectorTrue
	}
	return &NodeExecutionResult{
		Success:       true,
		Output:        map[string]any{"condition_result": matched},
		NextConnector: connector,
	}
}

// executeRuleSet runs the configured rule set against the applicant and
// external data and routes via the approved/declined/review connectors.
func (s *ExecutorSet) executeRuleSet(node *schema.WorkflowNode, cfg *schema.RuleSetConfig, ec *ExecutionContext) *NodeExecutionResult {
	rs, err := resolveRuleSet(cfg)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	result := s.evaluator.EvaluateRuleSet(rs, ec.DataContext())

	output := map[string]any{
		"decision": string(result.Decision),
		"score":    result.Score,
		"rule_set_result": map[string]any{
			"decision":           string(result.Decision),
			"score":              result.Score,
			"flags":              toAnySlice(result.Flags),
			"required_documents": toAnySlice(result.RequiredDocuments),
			"messages":           toAnySlice(result.Messages),
			"matched_rules":      toAnySlice(result.MatchedRules),
		},
	}

	return &NodeExecutionResult{
		Success:       true,
		Output:        output,
		NextConnector: decisionConnector(result.Decision),
		Decision:      result,
	}
}

// executeAction dispatches to a named business operation. Async actions
// suspend instead of invoking.
func (s *ExecutorSet) executeAction(ctx context.Context, node *schema.WorkflowNode, cfg *schema.ActionConfig, ec *ExecutionContext) *NodeExecutionResult {
	if cfg.Action == "" {
		return failureResult(node.ID, schema.NewError(schema.ErrCodeNodeExecution,
			"action node has no action name").WithNode(node.ID))
	}

	if cfg.Async {
		reason := cfg.AsyncReason
		if reason == "" {
			reason = cfg.Action
		}
		return &NodeExecutionResult{
			Success:       true,
			NextConnector: schema.ConnectorManual,
			Suspend: &SuspendRequest{
				Reason:     reason,
				OnComplete: schema.ConnectorSuccess,
			},
		}
	}

	action, err := s.invoker.Get(cfg.Action)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	params, err := decodeParams(cfg.Params)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	out, err := action.Execute(ctx, actions.Input{
		Params:    params,
		Applicant: subMap(ec.Variables, "applicant"),
		External:  subMap(ec.Variables, "external"),
		Variables: ec.Variables,
	})
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	output := out
	if cfg.OutputKey != "" {
		output = map[string]any{cfg.OutputKey: out}
	}
	return &NodeExecutionResult{
		Success:       true,
		Output:        output,
		NextConnector: schema.ConnectorDefault,
	}
}

// executeDataSource fetches from a named external source and writes the
// payload under the external namespace (or an explicit output key). An
// optional jq extract expression reshapes the payload first.
func (s *ExecutorSet) executeDataSource(ctx context.Context, node *schema.WorkflowNode, cfg *schema.DataSourceConfig, ec *ExecutionContext) *NodeExecutionResult {
	if cfg.SourceType == "" {
		return failureResult(node.ID, schema.NewError(schema.ErrCodeNodeExecution,
			"data_source node has no source type").WithNode(node.ID))
	}

	client, err := s.sources.Get(cfg.SourceType)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	params, err := decodeParams(cfg.Params)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	if s.vault != nil {
		if creds, err := secrets.ResolveCredentials(ctx, s.vault, cfg.SourceType); err == nil {
			params["credentials"] = creds
		}
	}

	payload, err := client.Fetch(ctx, params)
	if err != nil {
		return failureResult(node.ID, asSchemaError(err, node.ID))
	}

	var stored any = payload
	if cfg.Extract != "" {
		extracted, err := s.jq.Evaluate(ctx, cfg.Extract, payload)
		if err != nil {
			return failureResult(node.ID, asSchemaError(err, node.ID))
		}
		stored = extracted
	}

	var output map[string]any
	if cfg.OutputKey != "" {
		output = map[string]any{cfg.OutputKey: stored}
	} else {
		// Merge into the external namespace without clobbering payloads
		// from other sources.
		external := deepCopyMap(subMap(ec.Variables, "external"))
		if external == nil {
			external = make(map[string]any, 1)
		}
		external[cfg.SourceType] = stored
		output = map[string]any{"external": external}
	}

	return &NodeExecutionResult{
		Success:       true,
		Output:        output,
		NextConnector: schema.ConnectorDefault,
	}
}

// executeEnd is terminal: it computes the total execution duration,
// snapshots the final variables, and attaches the decision payload.
func (s *ExecutorSet) executeEnd(cfg *schema.EndConfig, ec *ExecutionContext) *NodeExecutionResult {
	decisionKey := cfg.DecisionKey
	if decisionKey == "" {
		decisionKey = "decision"
	}

	decision := map[string]any{}
	if outcome, ok := ec.Variables[decisionKey]; ok {
		decision["outcome"] = outcome
	}
	if cfg.Outcome != "" {
		decision["outcome"] = cfg.Outcome
	}
	if rsr, ok := ec.Variables["rule_set_result"].(map[string]any); ok {
		for k, v := range rsr {
			if _, exists := decision[k]; !exists {
				decision[k] = v
			}
		}
	}

	output := map[string]any{
		"total_duration_ms": time.Since(ec.StartedAt).Milliseconds(),
		"final_variables":   deepCopyMap(ec.Variables),
	}
	if len(decision) > 0 {
		output["decision"] = decision
	}

	return &NodeExecutionResult{
		Success:  true,
		Output:   output,
		Terminal: true,
	}
}

// resolveRuleSet picks the rule set from the config: explicit set, loose
// rule list, or a built-in template.
func resolveRuleSet(cfg *schema.RuleSetConfig) (schema.RuleSet, error) {
	switch {
	case cfg.RuleSet != nil:
		return *cfg.RuleSet, nil
	case len(cfg.Rules) > 0:
		return schema.RuleSet{Rules: cfg.Rules, ExecutionOrder: schema.OrderPriority}, nil
	case cfg.Template != "":
		rs, ok := rules.TemplateRuleSet(cfg.Template)
		if !ok {
			return schema.RuleSet{}, schema.NewErrorf(schema.ErrCodeNodeExecution,
				"unknown rule template %q", cfg.Template)
		}
		return rs, nil
	default:
		return schema.RuleSet{}, schema.NewError(schema.ErrCodeNodeExecution,
			"rule_set node has no rules")
	}
}

// decisionConnector maps the aggregate decision to its connector.
func decisionConnector(d schema.Decision) schema.ConnectorType {
	switch d {
	case schema.DecisionApproved:
		return schema.ConnectorApproved
	case schema.DecisionDeclined:
		return schema.ConnectorDeclined
	default:
		return schema.ConnectorReview
	}
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid params: %s", err.Error()).WithCause(err)
	}
	return params, nil
}

func failureResult(nodeID string, err *schema.Error) *NodeExecutionResult {
	return &NodeExecutionResult{
		Success:       false,
		Error:         err,
		NextConnector: schema.ConnectorError,
	}
}

// asSchemaError normalizes any error into a *schema.Error bound to the node.
func asSchemaError(err error, nodeID string) *schema.Error {
	if se, ok := err.(*schema.Error); ok {
		if se.NodeID == "" {
			se.NodeID = nodeID
		}
		return se
	}
	return schema.NewError(schema.ErrCodeNodeExecution, err.Error()).WithNode(nodeID).WithCause(err)
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
