// Package diagram renders workflows as Mermaid flowcharts, optionally
// overlaying the step statuses of a finished or in-flight run.
package diagram

import (
	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// Model is the intermediate representation handed to the renderer.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node is a single workflow node prepared for rendering.
type Node struct {
	ID     string
	Label  string
	Kind   schema.NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for one node of a run.
type StatusOverlay struct {
	Status     schema.StepStatus
	DurationMs int64
	Error      string
}

// Edge is a directed connection prepared for rendering.
type Edge struct {
	From  string
	To    string
	Kind  schema.EdgeKind
	Label string
}

// FromWorkflow builds a render model from a workflow. Run may be nil;
// when given, its step records become status overlays on the nodes they
// visited.
func FromWorkflow(wf *workflow.Workflow, run *execution.Execution) *Model {
	m := &Model{Title: wf.Name}

	overlays := map[string]*StatusOverlay{}
	if run != nil {
		for i := range run.Steps {
			step := &run.Steps[i]
			// Later visits of the same node win, so a loop renders
			// with its final outcome.
			overlays[step.NodeID] = &StatusOverlay{
				Status:     step.Status,
				DurationMs: step.DurationMs,
				Error:      step.ErrorMessage,
			}
		}
	}

	for _, n := range wf.Nodes() {
		m.Nodes = append(m.Nodes, Node{
			ID:     n.ID,
			Label:  nodeLabel(n),
			Kind:   n.Kind,
			Status: overlays[n.ID],
		})
	}
	for _, e := range wf.Edges() {
		m.Edges = append(m.Edges, Edge{
			From:  e.SourceID,
			To:    e.TargetID,
			Kind:  e.Kind,
			Label: edgeLabel(e),
		})
	}
	return m
}

// nodeLabel uses the optional "name" configuration key, falling back to
// the node id.
func nodeLabel(n *workflow.Node) string {
	if name, ok := n.Config.Extra["name"].(string); ok && name != "" {
		return name
	}
	return n.ID
}

// edgeLabel prefers the condition's branch label, then the edge label,
// then the raw expression for conditional edges, mirroring the order
// routing reads them in.
func edgeLabel(e *workflow.Edge) string {
	if e.Condition != nil && e.Condition.Label != "" {
		return e.Condition.Label
	}
	if e.Label != "" {
		return e.Label
	}
	if e.Kind == schema.EdgeKindConditional && e.Condition != nil {
		return e.Condition.Expression
	}
	return ""
}
