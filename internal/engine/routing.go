package engine

import (
	"context"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// nextNode resolves the node the cursor moves to after a successful
// execution. Precedence:
//
//  1. a handler override naming an existing node is followed verbatim;
//  2. condition kinds match their output "branch" against the condition
//     labels, then plain labels, of outgoing conditional edges;
//  3. loop kinds follow their loop_back edge while the handler reports
//     continue, and the first non-loop_back edge once it stops;
//  4. otherwise edges are scanned in declaration order: normal edges are
//     taken immediately, conditional edges when their expression holds.
//
// Every branch falls back to the first outgoing edge, and a node with no
// outgoing edges ends the run. error and timeout edge kinds are wire
// vocabulary only and never routed: failures abort the run.
func (e *Executor) nextNode(ctx context.Context, wf *workflow.Workflow, node *workflow.Node, res nodeResult, runCtx *execution.Context) *workflow.Node {
	if res.nextNodeID != "" {
		if override := wf.Node(res.nextNodeID); override != nil {
			return override
		}
	}

	out := wf.OutgoingEdges(node.ID)
	if len(out) == 0 {
		return nil
	}

	switch node.Kind {
	case schema.NodeKindCondition:
		return wf.Node(e.routeBranch(out, res))
	case schema.NodeKindLoop:
		return wf.Node(e.routeLoop(ctx, out, res, runCtx))
	default:
		return wf.Node(e.routeDefault(ctx, out, runCtx))
	}
}

// routeBranch matches a condition node's branch output against its
// outgoing conditional edges. The condition label is checked before the
// edge label so an edge can carry a display label without hijacking
// routing.
func (e *Executor) routeBranch(out []*workflow.Edge, res nodeResult) string {
	branch, _ := res.output["branch"].(string)
	if branch != "" {
		for _, edge := range out {
			if edge.Kind == schema.EdgeKindConditional && edge.Condition != nil && edge.Condition.Label == branch {
				return edge.TargetID
			}
		}
		for _, edge := range out {
			if edge.Label == branch {
				return edge.TargetID
			}
		}
	}
	return out[0].TargetID
}

// routeLoop follows the loop_back edge while the loop handler reports
// continue, then falls through to the first forward edge.
func (e *Executor) routeLoop(ctx context.Context, out []*workflow.Edge, res nodeResult, runCtx *execution.Context) string {
	keepGoing, _ := res.output["continue"].(bool)
	if keepGoing {
		for _, edge := range out {
			if edge.Kind == schema.EdgeKindLoopBack {
				return edge.TargetID
			}
		}
	}
	for _, edge := range out {
		if edge.Kind == schema.EdgeKindLoopBack {
			continue
		}
		if taken, decided := e.takeEdge(ctx, edge, runCtx); decided && taken {
			return edge.TargetID
		}
	}
	// The fallback must not re-enter the body: a finished loop with no
	// qualifying forward edge exits through the first non-loop_back
	// edge, or ends the run.
	for _, edge := range out {
		if edge.Kind != schema.EdgeKindLoopBack {
			return edge.TargetID
		}
	}
	return ""
}

// routeDefault scans edges in declaration order and takes the first that
// qualifies.
func (e *Executor) routeDefault(ctx context.Context, out []*workflow.Edge, runCtx *execution.Context) string {
	for _, edge := range out {
		if taken, decided := e.takeEdge(ctx, edge, runCtx); decided && taken {
			return edge.TargetID
		}
	}
	return out[0].TargetID
}

// takeEdge decides one edge. The second return reports whether this edge
// kind participates in forward routing at all.
func (e *Executor) takeEdge(ctx context.Context, edge *workflow.Edge, runCtx *execution.Context) (taken, decided bool) {
	switch edge.Kind {
	case schema.EdgeKindConditional:
		expression := ""
		if edge.Condition != nil {
			expression = edge.Condition.Expression
		}
		scope := expressions.NewScope(runCtx.Input, runCtx.Vars, runCtx.NodeOutputs)
		return e.conditions.Evaluate(ctx, expression, scope), true
	case schema.EdgeKindError, schema.EdgeKindTimeout, schema.EdgeKindLoopBack:
		return false, false
	default:
		return true, true
	}
}
