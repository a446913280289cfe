package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// Code evaluates a deterministic expr-lang program. The environment exposes
// input, vars, and nodes like every other expression surface, plus params:
// the node's resolved input mapping. No I/O, no goroutines, no imports —
// just data logic.
type Code struct {
	logic *expressions.LogicEngine
}

// NewCode creates the code node handler.
func NewCode(logic *expressions.LogicEngine) *Code {
	return &Code{logic: logic}
}

func (h *Code) Kind() schema.NodeKind { return schema.NodeKindCode }

func (h *Code) Validate(node workflow.Node) []string {
	program := codeProgram(node)
	if program == "" {
		return []string{fmt.Sprintf("code node %q: missing required config 'code'", node.ID)}
	}
	if err := h.logic.Check(program); err != nil {
		return []string{fmt.Sprintf("code node %q: %v", node.ID, err)}
	}
	return nil
}

func (h *Code) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	program := codeProgram(node)
	if program == "" {
		return Failf(schema.ErrCodeValidation, "code node %q: missing required config 'code'", node.ID), nil
	}

	env := runScope(run).Activation()
	if input == nil {
		input = map[string]any{}
	}
	env["params"] = input

	out, err := h.logic.Evaluate(ctx, program, env)
	if err != nil {
		return nil, err
	}

	if m, ok := out.(map[string]any); ok {
		return OK(m), nil
	}
	return OK(map[string]any{"result": out}), nil
}

// codeProgram reads the node's program text, accepting either config key.
func codeProgram(node workflow.Node) string {
	if node.Config.Code != "" {
		return node.Config.Code
	}
	return node.Config.Expression
}
