package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// Condition evaluates a boolean expression against the run scope and
// reports the branch taken. The executor routes on the "branch" output:
// conditional edges whose condition label (or edge label) matches the
// branch are followed.
type Condition struct {
	eval *expressions.ConditionEvaluator
}

// NewCondition creates the condition node handler.
func NewCondition(eval *expressions.ConditionEvaluator) *Condition {
	return &Condition{eval: eval}
}

func (h *Condition) Kind() schema.NodeKind { return schema.NodeKindCondition }

func (h *Condition) Validate(node workflow.Node) []string {
	expression := conditionExpression(node)
	if expression == "" {
		// Vacuously true conditions are legal; nothing to check.
		return nil
	}
	if err := h.eval.Check(expression); err != nil {
		return []string{fmt.Sprintf("condition node %q: %v", node.ID, err)}
	}
	return nil
}

func (h *Condition) Execute(ctx context.Context, node workflow.Node, run *execution.Context, _ map[string]any) (*Result, error) {
	expression := conditionExpression(node)
	result := h.eval.Evaluate(ctx, expression, runScope(run))

	branch := "false"
	if result {
		branch = "true"
	}

	return OK(map[string]any{
		"result":     result,
		"branch":     branch,
		"expression": expression,
	}), nil
}

// conditionExpression reads the node's boolean expression, accepting either
// config key for it.
func conditionExpression(node workflow.Node) string {
	if node.Config.Condition != "" {
		return node.Config.Condition
	}
	return node.Config.Expression
}
