package workflow

import (
	"github.com/weftlabs/weft/pkg/schema"
)

// Position is a node's layout coordinate. Display-only: execution and
// validation never read it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single typed step in a workflow graph. Nodes are owned by
// their workflow aggregate and must only be mutated through it.
type Node struct {
	ID       string
	Kind     schema.NodeKind
	Config   schema.NodeConfig
	Position Position
	// RefID optionally points at an external object (agent, tool,
	// reusable block) owned outside the engine.
	RefID string
}

// Edge is a directed connection between two nodes of the same workflow.
type Edge struct {
	ID        string
	SourceID  string
	TargetID  string
	Kind      schema.EdgeKind
	Condition *schema.EdgeCondition
	Label     string
}

// clone returns a deep copy of the node.
func (n *Node) clone() *Node {
	cp := *n
	cp.Config = cloneConfig(n.Config)
	return &cp
}

// clone returns a deep copy of the edge.
func (e *Edge) clone() *Edge {
	cp := *e
	if e.Condition != nil {
		cond := *e.Condition
		cp.Condition = &cond
	}
	return &cp
}

func cloneConfig(c schema.NodeConfig) schema.NodeConfig {
	cp := c
	if c.InputMapping != nil {
		cp.InputMapping = make(map[string]string, len(c.InputMapping))
		for k, v := range c.InputMapping {
			cp.InputMapping[k] = v
		}
	}
	if c.Extra != nil {
		cp.Extra = deepCopyMap(c.Extra)
	}
	return cp
}

// deepCopyMap recursively copies a JSON-shaped map so clones never
// alias the original's nested structures.
func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyAny(v)
	}
	return out
}

func deepCopyAny(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = deepCopyAny(item)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return v
	}
}

// nodeFromDefinition converts one wire-format node into an entity.
func nodeFromDefinition(d schema.NodeDefinition) *Node {
	return &Node{
		ID:       d.ID,
		Kind:     d.Type,
		Config:   d.Config,
		Position: Position{X: d.PositionX, Y: d.PositionY},
		RefID:    d.RefID,
	}
}

// edgeFromDefinition converts one wire-format edge into an entity.
func edgeFromDefinition(d schema.EdgeDefinition) *Edge {
	e := &Edge{
		ID:       d.ID,
		SourceID: d.SourceNodeID,
		TargetID: d.TargetNodeID,
		Kind:     d.Type,
		Label:    d.Label,
	}
	if d.Condition != nil {
		cond := *d.Condition
		e.Condition = &cond
	}
	return e
}

func (n *Node) toDefinition() schema.NodeDefinition {
	return schema.NodeDefinition{
		ID:        n.ID,
		Type:      n.Kind,
		Config:    cloneConfig(n.Config),
		PositionX: n.Position.X,
		PositionY: n.Position.Y,
		RefID:     n.RefID,
	}
}

func (e *Edge) toDefinition() schema.EdgeDefinition {
	d := schema.EdgeDefinition{
		ID:           e.ID,
		SourceNodeID: e.SourceID,
		TargetNodeID: e.TargetID,
		Type:         e.Kind,
		Label:        e.Label,
	}
	if e.Condition != nil {
		cond := *e.Condition
		d.Condition = &cond
	}
	return d
}
