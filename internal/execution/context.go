// Package execution holds per-run state: the mutable context a run
// carries while walking the graph, and the persisted execution
// aggregate with its state machine and step audit trail.
package execution

import (
	"encoding/json"
)

// Context is the mutable state of one run. It is owned exclusively by
// that run; two runs never share a Context, so no locking is needed.
type Context struct {
	RunID         string
	WorkflowID    string
	UserID        string
	Input         map[string]any
	Vars          map[string]any
	NodeOutputs   map[string]map[string]any
	CurrentNodeID string
	ParentRunID   string
	TraceID       string
}

// NewContext creates a run context with non-nil maps.
func NewContext(runID, workflowID, userID string, input map[string]any) *Context {
	if input == nil {
		input = make(map[string]any)
	}
	return &Context{
		RunID:       runID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Input:       input,
		Vars:        make(map[string]any),
		NodeOutputs: make(map[string]map[string]any),
	}
}

// RecordOutput stores a node's output for later resolution by
// downstream nodes.
func (c *Context) RecordOutput(nodeID string, output map[string]any) {
	if output == nil {
		output = make(map[string]any)
	}
	c.NodeOutputs[nodeID] = output
}

// Output returns the recorded output of a node.
func (c *Context) Output(nodeID string) (map[string]any, bool) {
	out, ok := c.NodeOutputs[nodeID]
	return out, ok
}

// SetVar sets a free-form context variable.
func (c *Context) SetVar(name string, value any) {
	c.Vars[name] = value
}

// Var returns a context variable.
func (c *Context) Var(name string) (any, bool) {
	v, ok := c.Vars[name]
	return v, ok
}

// contextSnapshot is the serialized form of a Context, kept opaque to
// everything but this package.
type contextSnapshot struct {
	RunID         string                    `json:"run_id"`
	WorkflowID    string                    `json:"workflow_id"`
	UserID        string                    `json:"user_id"`
	Input         map[string]any            `json:"input,omitempty"`
	Vars          map[string]any            `json:"vars,omitempty"`
	NodeOutputs   map[string]map[string]any `json:"node_outputs,omitempty"`
	CurrentNodeID string                    `json:"current_node_id,omitempty"`
	ParentRunID   string                    `json:"parent_run_id,omitempty"`
	TraceID       string                    `json:"trace_id,omitempty"`
}

// Snapshot serializes the context for storage on the execution
// aggregate. Serialization failures degrade to an empty object rather
// than failing a run that has already finished its work.
func (c *Context) Snapshot() json.RawMessage {
	raw, err := json.Marshal(contextSnapshot{
		RunID:         c.RunID,
		WorkflowID:    c.WorkflowID,
		UserID:        c.UserID,
		Input:         c.Input,
		Vars:          c.Vars,
		NodeOutputs:   c.NodeOutputs,
		CurrentNodeID: c.CurrentNodeID,
		ParentRunID:   c.ParentRunID,
		TraceID:       c.TraceID,
	})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
