package validation

import (
	"fmt"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow definition:
// unique node ids, exactly one start node, connection endpoints, node
// types permitted by the declared mode, and per-type config checks.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]schema.NodeType, len(def.Nodes))
	starts, ends := 0, 0
	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if _, exists := nodeIDs[node.ID]; exists {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", node.ID))
		}
		nodeIDs[node.ID] = node.Type

		switch node.Type {
		case schema.NodeTypeStart:
			starts++
		case schema.NodeTypeEnd:
			ends++
		}

		validateNodeConfig(node, path, lookup, result)
		validateModeMembership(def.Mode, node, path, result)
	}

	switch starts {
	case 0:
		result.AddError("nodes", schema.ErrCodeNoStartNode, "workflow has no start node")
	case 1:
	default:
		result.AddError("nodes", schema.ErrCodeMultipleStartNodes,
			fmt.Sprintf("workflow has %d start nodes, expected exactly one", starts))
	}
	if ends == 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation,
			"workflow has no end node; executions will finish at a dead end")
	}

	for i, conn := range def.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		if _, ok := nodeIDs[conn.Source]; !ok {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", conn.Source))
		}
		if _, ok := nodeIDs[conn.Target]; !ok {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", conn.Target))
		}
		if nodeIDs[conn.Target] == schema.NodeTypeStart {
			result.AddWarning(path+".target", schema.ErrCodeValidation,
				"connection targets the start node; re-entering start re-seeds variables from input")
		}
		if nodeIDs[conn.Source] == schema.NodeTypeEnd {
			result.AddError(path+".source", schema.ErrCodeValidation,
				"end nodes cannot have outgoing connections")
		}
	}

	validateConditionBranches(def, result)

	return result
}

// validateNodeConfig decodes a node's config and checks the fields the
// executor will require at runtime.
func validateNodeConfig(node *schema.WorkflowNode, path string, lookup ActionLookup, result *schema.ValidationResult) {
	cfg, err := schema.DecodeNodeConfig(node)
	if err != nil {
		result.AddError(path+".data", schema.ErrCodeValidation, err.Error())
		return
	}

	switch c := cfg.(type) {
	case *schema.ConditionConfig:
		if c.Expression == "" {
			result.AddError(path+".data.expression", schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q has no expression", node.ID))
		}
	case *schema.ActionConfig:
		if c.Action == "" {
			result.AddError(path+".data.action", schema.ErrCodeValidation,
				fmt.Sprintf("%s node %q has no action name", node.Type, node.ID))
		} else if lookup != nil && !c.Async && !lookup.Has(c.Action) {
			result.AddError(path+".data.action", schema.ErrCodeValidation,
				fmt.Sprintf("action %q not registered", c.Action))
		}
	case *schema.DataSourceConfig:
		if c.SourceType == "" {
			result.AddError(path+".data.source_type", schema.ErrCodeValidation,
				fmt.Sprintf("data_source node %q has no source type", node.ID))
		}
	case *schema.RuleSetConfig:
		if c.RuleSet == nil && len(c.Rules) == 0 && c.Template == "" {
			result.AddError(path+".data", schema.ErrCodeValidation,
				fmt.Sprintf("rule_set node %q has no rules, rule set, or template", node.ID))
		}
	case *schema.DecisionConfig:
		validateDecisionConfig(c, node, path, result)
	}
}

func validateDecisionConfig(c *schema.DecisionConfig, node *schema.WorkflowNode, path string, result *schema.ValidationResult) {
	switch c.Mode {
	case schema.DecisionModeSimple:
		if c.Condition == nil {
			result.AddError(path+".data.condition", schema.ErrCodeValidation,
				fmt.Sprintf("simple decision node %q has no condition", node.ID))
		}
	case schema.DecisionModeComplex:
		if len(c.Conditions) == 0 {
			result.AddError(path+".data.conditions", schema.ErrCodeValidation,
				fmt.Sprintf("complex decision node %q has no conditions", node.ID))
		}
		if c.Logic == "custom" && c.CustomLogic == "" {
			result.AddError(path+".data.custom_logic", schema.ErrCodeValidation,
				fmt.Sprintf("decision node %q uses custom logic but defines none", node.ID))
		}
	case schema.DecisionModeMultiple:
		if len(c.Options) == 0 {
			result.AddError(path+".data.options", schema.ErrCodeValidation,
				fmt.Sprintf("multiple decision node %q has no options", node.ID))
		}
	case schema.DecisionModeScoreBased:
		if c.Variable == "" {
			result.AddError(path+".data.variable", schema.ErrCodeValidation,
				fmt.Sprintf("score_based decision node %q has no variable", node.ID))
		}
	case schema.DecisionModeThreshold:
		if c.Variable == "" {
			result.AddError(path+".data.variable", schema.ErrCodeValidation,
				fmt.Sprintf("threshold decision node %q has no variable", node.ID))
		}
	case "":
		result.AddError(path+".data.mode", schema.ErrCodeValidation,
			fmt.Sprintf("decision node %q has no mode", node.ID))
	default:
		result.AddError(path+".data.mode", schema.ErrCodeValidation,
			fmt.Sprintf("decision node %q has unknown mode %q", node.ID, c.Mode))
	}
}

// validateModeMembership warns when a node type is outside the declared
// authoring mode. The engine executes it anyway; the workflow just could
// not have been authored in that mode.
func validateModeMembership(mode schema.WorkflowMode, node *schema.WorkflowNode, path string, result *schema.ValidationResult) {
	if mode == "" {
		return
	}
	for _, t := range schema.NodeTypesForMode(mode) {
		if node.Type == t {
			return
		}
	}
	result.AddWarning(path+".type", schema.ErrCodeValidation,
		fmt.Sprintf("node type %q is not available in %s mode", node.Type, mode))
}

// validateConditionBranches warns about condition nodes missing a true
// or false outgoing connection; the untaken branch dead-ends at runtime.
func validateConditionBranches(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	outgoing := make(map[string]map[schema.ConnectorType]bool)
	for _, conn := range def.Connections {
		if outgoing[conn.Source] == nil {
			outgoing[conn.Source] = make(map[schema.ConnectorType]bool)
		}
		ct := conn.ConnectorType
		if ct == "" {
			ct = schema.ConnectorDefault
		}
		outgoing[conn.Source][ct] = true
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.Type != schema.NodeTypeCondition {
			continue
		}
		conns := outgoing[node.ID]
		if conns[schema.ConnectorDefault] {
			continue // default catches either branch
		}
		for _, branch := range []schema.ConnectorType{schema.ConnectorTrue, schema.ConnectorFalse} {
			if !conns[branch] {
				result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
					fmt.Sprintf("condition node %q has no %s connection; that branch dead-ends", node.ID, branch))
			}
		}
	}
}
