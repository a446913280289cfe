package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// defaultLoopIterations bounds a loop node that does not set max_iterations.
const defaultLoopIterations = 10

// Loop tracks per-node iteration counts in run vars and decides whether the
// executor should follow the node's loop_back edge again. The loop continues
// while the optional condition holds and the iteration count is below
// max_iterations; the executor's own run-wide ceiling still applies on top.
type Loop struct {
	eval *expressions.ConditionEvaluator
}

// NewLoop creates the loop node handler.
func NewLoop(eval *expressions.ConditionEvaluator) *Loop {
	return &Loop{eval: eval}
}

func (h *Loop) Kind() schema.NodeKind { return schema.NodeKindLoop }

func (h *Loop) Validate(node workflow.Node) []string {
	var msgs []string
	if node.Config.MaxIterations < 0 {
		msgs = append(msgs, fmt.Sprintf("loop node %q: max_iterations must not be negative", node.ID))
	}
	if expression := node.Config.Condition; expression != "" {
		if err := h.eval.Check(expression); err != nil {
			msgs = append(msgs, fmt.Sprintf("loop node %q: %v", node.ID, err))
		}
	}
	return msgs
}

func (h *Loop) Execute(ctx context.Context, node workflow.Node, run *execution.Context, _ map[string]any) (*Result, error) {
	maxIterations := node.Config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultLoopIterations
	}

	iteration := h.iterationCount(run, node.ID) + 1
	run.SetVar(iterationVarKey(node.ID), iteration)

	// The condition sees the updated counter, so expressions like
	// vars["loop.check.iteration"] < 3 behave as written.
	keepGoing := iteration < maxIterations &&
		h.eval.Evaluate(ctx, node.Config.Condition, runScope(run))

	return OK(map[string]any{
		"iteration":      iteration,
		"continue":       keepGoing,
		"max_iterations": maxIterations,
	}), nil
}

func (h *Loop) iterationCount(run *execution.Context, nodeID string) int {
	v, ok := run.Var(iterationVarKey(nodeID))
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// iterationVarKey names the run var holding a loop node's iteration count.
func iterationVarKey(nodeID string) string {
	return fmt.Sprintf("loop.%s.iteration", nodeID)
}
