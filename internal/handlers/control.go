package handlers

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// runScope builds the expression scope for a live run. Handlers resolve
// config templates against this, never against the node's own input.
func runScope(run *execution.Context) expressions.Scope {
	if run == nil {
		return expressions.NewScope(nil, nil, nil)
	}
	return expressions.NewScope(run.Input, run.Vars, run.NodeOutputs)
}

// PassThrough is the handler for structural node kinds: entry points, exits,
// trigger surfaces, and the parallel/merge/block grouping constructs. It
// echoes its input as output so downstream nodes can reference the data
// under nodes.<id>.* without special cases.
type PassThrough struct {
	kind schema.NodeKind
}

// NewPassThrough creates a pass-through handler for the given kind.
func NewPassThrough(kind schema.NodeKind) *PassThrough {
	return &PassThrough{kind: kind}
}

func (h *PassThrough) Kind() schema.NodeKind { return h.kind }

func (h *PassThrough) Validate(node workflow.Node) []string {
	// Schedule nodes carry a cron spec that must parse.
	if h.kind == schema.NodeKindSchedule {
		spec := node.Config.Cron
		if spec == "" {
			return []string{fmt.Sprintf("schedule node %q: missing required config 'cron'", node.ID)}
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return []string{fmt.Sprintf("schedule node %q: invalid cron spec %q: %v", node.ID, spec, err)}
		}
	}
	return nil
}

func (h *PassThrough) Execute(_ context.Context, _ workflow.Node, _ *execution.Context, input map[string]any) (*Result, error) {
	return OK(input), nil
}

// ControlHandlers returns pass-through handlers for every structural kind.
func ControlHandlers() []NodeHandler {
	kinds := []schema.NodeKind{
		schema.NodeKindEntry,
		schema.NodeKindExit,
		schema.NodeKindTrigger,
		schema.NodeKindWebhook,
		schema.NodeKindSchedule,
		schema.NodeKindBlock,
		schema.NodeKindParallel,
		schema.NodeKindMerge,
	}

	out := make([]NodeHandler, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, NewPassThrough(k))
	}
	return out
}
