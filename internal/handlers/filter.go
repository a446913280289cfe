package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// Filter runs a jq expression that selects items from its input and always
// outputs the surviving collection: {"items": [...], "count": n}. The usual
// shape is ".items[] | select(...)" over a mapped input.
type Filter struct {
	jq *expressions.JQEngine
}

// NewFilter creates the filter node handler.
func NewFilter(jq *expressions.JQEngine) *Filter {
	return &Filter{jq: jq}
}

func (h *Filter) Kind() schema.NodeKind { return schema.NodeKindFilter }

func (h *Filter) Validate(node workflow.Node) []string {
	expression := node.Config.Expression
	if expression == "" {
		return []string{fmt.Sprintf("filter node %q: missing required config 'expression'", node.ID)}
	}
	if err := h.jq.Check(expression); err != nil {
		return []string{fmt.Sprintf("filter node %q: %v", node.ID, err)}
	}
	return nil
}

func (h *Filter) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	expression := node.Config.Expression
	if expression == "" {
		return Failf(schema.ErrCodeValidation, "filter node %q: missing required config 'expression'", node.ID), nil
	}

	items, err := h.jq.EvaluateAll(ctx, expression, jqRoot(run, input))
	if err != nil {
		return nil, err
	}

	// A single array output means the expression returned the collection
	// itself rather than streaming items; unwrap it.
	if len(items) == 1 {
		if arr, ok := items[0].([]any); ok {
			items = arr
		}
	}
	if items == nil {
		items = []any{}
	}

	return OK(map[string]any{
		"items": items,
		"count": len(items),
	}), nil
}
