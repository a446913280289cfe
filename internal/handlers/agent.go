package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// ModelRequest is a single completion request sent to a model backend.
type ModelRequest struct {
	Provider     string         `json:"provider,omitempty"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Prompt       string         `json:"prompt"`
	Temperature  float64        `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ModelResponse is the backend's answer.
type ModelResponse struct {
	Content      string  `json:"content"`
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model"`
	FinishReason string  `json:"finish_reason,omitempty"`
	TotalTokens  int     `json:"total_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
}

// ModelCaller is the port to whatever serves completions. The engine never
// talks to a provider SDK directly; hosts inject an implementation.
type ModelCaller interface {
	Call(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// AgentCall invokes an agent turn through the model backend. The prompt is
// a config template resolved against the run scope, falling back to the
// node input's "prompt" field, then to the whole input as JSON. When the
// primary model fails, fallback_models are tried in order before the node
// is marked failed.
type AgentCall struct {
	caller   ModelCaller
	resolver *expressions.Resolver
}

// NewAgentCall creates the agent_call node handler.
func NewAgentCall(caller ModelCaller, resolver *expressions.Resolver) *AgentCall {
	if resolver == nil {
		resolver = expressions.NewResolver()
	}
	return &AgentCall{caller: caller, resolver: resolver}
}

func (h *AgentCall) Kind() schema.NodeKind { return schema.NodeKindAgentCall }

func (h *AgentCall) Validate(node workflow.Node) []string {
	if node.Config.Model == "" {
		return []string{fmt.Sprintf("agent_call node %q: missing required config 'model'", node.ID)}
	}
	return nil
}

func (h *AgentCall) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	if h.caller == nil {
		return Failf(schema.ErrCodeExecution, "agent_call node %q: no model backend configured", node.ID), nil
	}
	if node.Config.Model == "" {
		return Failf(schema.ErrCodeValidation, "agent_call node %q: missing required config 'model'", node.ID), nil
	}

	scope := runScope(run)
	prompt := buildPrompt(h.resolver, node, scope, input)

	models := append([]string{node.Config.Model}, node.Config.ExtraStrings("fallback_models")...)

	var lastErr error
	for _, model := range models {
		resp, err := h.caller.Call(ctx, ModelRequest{
			Provider:     node.Config.Provider,
			Model:        model,
			SystemPrompt: h.resolver.Resolve(node.Config.SystemPrompt, scope),
			Prompt:       prompt,
			Temperature:  node.Config.Temperature,
			MaxTokens:    node.Config.MaxTokens,
			Metadata:     map[string]any{"node_id": node.ID, "run_id": runID(run)},
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				// Context expiry is not a model failure; stop the chain.
				return nil, schema.NewError(schema.ErrCodeCancelled, "agent_call interrupted").WithCause(ctx.Err()).WithNode(node.ID)
			}
			continue
		}
		return OK(modelOutput(resp)), nil
	}

	return Failf(schema.ErrCodeExecution,
		"agent_call node %q: all %d model(s) failed: %v", node.ID, len(models), lastErr), nil
}

// ModelCall invokes the model backend once with no fallback chain. It is
// the low-level sibling of agent_call for direct completion nodes.
type ModelCall struct {
	caller   ModelCaller
	resolver *expressions.Resolver
}

// NewModelCall creates the model_call node handler.
func NewModelCall(caller ModelCaller, resolver *expressions.Resolver) *ModelCall {
	if resolver == nil {
		resolver = expressions.NewResolver()
	}
	return &ModelCall{caller: caller, resolver: resolver}
}

func (h *ModelCall) Kind() schema.NodeKind { return schema.NodeKindModelCall }

func (h *ModelCall) Validate(node workflow.Node) []string {
	if node.Config.Model == "" {
		return []string{fmt.Sprintf("model_call node %q: missing required config 'model'", node.ID)}
	}
	return nil
}

func (h *ModelCall) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	if h.caller == nil {
		return Failf(schema.ErrCodeExecution, "model_call node %q: no model backend configured", node.ID), nil
	}
	if node.Config.Model == "" {
		return Failf(schema.ErrCodeValidation, "model_call node %q: missing required config 'model'", node.ID), nil
	}

	scope := runScope(run)

	resp, err := h.caller.Call(ctx, ModelRequest{
		Provider:     node.Config.Provider,
		Model:        node.Config.Model,
		SystemPrompt: h.resolver.Resolve(node.Config.SystemPrompt, scope),
		Prompt:       buildPrompt(h.resolver, node, scope, input),
		Temperature:  node.Config.Temperature,
		MaxTokens:    node.Config.MaxTokens,
		Metadata:     map[string]any{"node_id": node.ID, "run_id": runID(run)},
	})
	if err != nil {
		return Failf(schema.ErrCodeExecution, "model_call node %q: %v", node.ID, err), nil
	}

	return OK(modelOutput(resp)), nil
}

// buildPrompt assembles the prompt text: config template first, then the
// input's prompt field, then the whole input serialized.
func buildPrompt(resolver *expressions.Resolver, node workflow.Node, scope expressions.Scope, input map[string]any) string {
	if tpl := node.Config.ExtraString("prompt", ""); tpl != "" {
		return resolver.Resolve(tpl, scope)
	}
	if p, ok := input["prompt"].(string); ok && p != "" {
		return p
	}
	if len(input) == 0 {
		return ""
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(b)
}

func modelOutput(resp *ModelResponse) map[string]any {
	if resp == nil {
		return map[string]any{}
	}
	return map[string]any{
		"content":       resp.Content,
		"provider":      resp.Provider,
		"model":         resp.Model,
		"finish_reason": resp.FinishReason,
		"total_tokens":  resp.TotalTokens,
	}
}

func runID(run *execution.Context) string {
	if run == nil {
		return ""
	}
	return run.RunID
}
