package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// ToolExecutor is the port to the host's tool runtime (MCP tools, internal
// plugins, whatever the embedding platform provides).
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, toolID string, args map[string]any) (map[string]any, error)
}

// ToolCall invokes a named tool with the node's resolved input as arguments
// and returns the tool's result map as node output.
type ToolCall struct {
	executor ToolExecutor
}

// NewToolCall creates the tool_call node handler.
func NewToolCall(executor ToolExecutor) *ToolCall {
	return &ToolCall{executor: executor}
}

func (h *ToolCall) Kind() schema.NodeKind { return schema.NodeKindToolCall }

func (h *ToolCall) Validate(node workflow.Node) []string {
	if node.Config.ToolID == "" {
		return []string{fmt.Sprintf("tool_call node %q: missing required config 'tool_id'", node.ID)}
	}
	return nil
}

func (h *ToolCall) Execute(ctx context.Context, node workflow.Node, _ *execution.Context, input map[string]any) (*Result, error) {
	if h.executor == nil {
		return Failf(schema.ErrCodeExecution, "tool_call node %q: no tool executor configured", node.ID), nil
	}
	toolID := node.Config.ToolID
	if toolID == "" {
		return Failf(schema.ErrCodeValidation, "tool_call node %q: missing required config 'tool_id'", node.ID), nil
	}

	out, err := h.executor.ExecuteTool(ctx, toolID, input)
	if err != nil {
		return Failf(schema.ErrCodeExecution, "tool_call node %q: tool %q failed: %v", node.ID, toolID, err), nil
	}
	if out == nil {
		out = map[string]any{}
	}

	return OK(out), nil
}
