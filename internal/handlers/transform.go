package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// Transform reshapes data with a jq expression. The expression's root is
// the node's resolved input when a mapping produced one; otherwise it is
// the full run scope as {input, vars, nodes}, so unmapped transform nodes
// can still reach everything.
type Transform struct {
	jq *expressions.JQEngine
}

// NewTransform creates the transform node handler.
func NewTransform(jq *expressions.JQEngine) *Transform {
	return &Transform{jq: jq}
}

func (h *Transform) Kind() schema.NodeKind { return schema.NodeKindTransform }

func (h *Transform) Validate(node workflow.Node) []string {
	expression := node.Config.Expression
	if expression == "" {
		return []string{fmt.Sprintf("transform node %q: missing required config 'expression'", node.ID)}
	}
	if err := h.jq.Check(expression); err != nil {
		return []string{fmt.Sprintf("transform node %q: %v", node.ID, err)}
	}
	return nil
}

func (h *Transform) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	expression := node.Config.Expression
	if expression == "" {
		return Failf(schema.ErrCodeValidation, "transform node %q: missing required config 'expression'", node.ID), nil
	}

	out, err := h.jq.Evaluate(ctx, expression, jqRoot(run, input))
	if err != nil {
		return nil, err
	}

	// Object results become the node output directly; scalars and arrays
	// are wrapped so the output stays a map.
	if m, ok := out.(map[string]any); ok {
		return OK(m), nil
	}
	return OK(map[string]any{"result": out}), nil
}

// jqRoot picks the jq input document for transform and filter nodes.
func jqRoot(run *execution.Context, input map[string]any) map[string]any {
	if len(input) > 0 {
		return input
	}
	return runScope(run).Activation()
}
