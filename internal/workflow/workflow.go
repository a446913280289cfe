// Package workflow holds the graph aggregate: nodes, edges, and the
// operations that create, mutate, and validate them. The aggregate is
// the only supported way to change a graph; entities handed out by
// accessors are read by the engine but never mutated outside this
// package.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/schema"
)

// Workflow is the graph aggregate root.
type Workflow struct {
	ID           string
	OwnerID      string
	Name         string
	Description  string
	Version      string
	IsPublic     bool
	EntryPointID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time

	nodes     []*Node
	edges     []*Edge
	nodeIndex map[string]*Node
	events    []Event
}

// CreateParams configures Create. Nodes and Edges may be nil for an
// empty graph built up incrementally; EntryPointID may be empty, in
// which case it is inferred.
type CreateParams struct {
	OwnerID      string
	Name         string
	Description  string
	Version      string
	IsPublic     bool
	EntryPointID string
	Nodes        []*Node
	Edges        []*Edge
}

// Create builds a new workflow aggregate. Node ids must be unique;
// other structural problems (dangling edges, missing conditions) are
// deliberately tolerated here and reported by Validate, so callers can
// persist work-in-progress graphs.
func Create(p CreateParams) (*Workflow, error) {
	now := time.Now().UTC()
	w := &Workflow{
		ID:          uuid.NewString(),
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		IsPublic:    p.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
		nodeIndex:   make(map[string]*Node),
	}
	if w.Version == "" {
		w.Version = "1"
	}

	for _, n := range p.Nodes {
		if err := w.attachNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range p.Edges {
		w.attachEdge(e)
	}
	w.EntryPointID = w.resolveEntryPoint(p.EntryPointID)

	w.record(EventWorkflowCreated, map[string]any{
		"node_count": len(w.nodes),
		"edge_count": len(w.edges),
	})
	return w, nil
}

// CreateFromDefinition builds a new aggregate from the wire-format
// graph definition.
func CreateFromDefinition(ownerID, name string, def *schema.GraphDefinition) (*Workflow, error) {
	p := CreateParams{OwnerID: ownerID, Name: name}
	if def != nil {
		p.EntryPointID = def.EntryPoint
		p.Nodes = make([]*Node, 0, len(def.Nodes))
		for _, nd := range def.Nodes {
			p.Nodes = append(p.Nodes, nodeFromDefinition(nd))
		}
		p.Edges = make([]*Edge, 0, len(def.Edges))
		for _, ed := range def.Edges {
			p.Edges = append(p.Edges, edgeFromDefinition(ed))
		}
	}
	return Create(p)
}

// Snapshot is the full persisted state of a workflow aggregate.
type Snapshot struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"owner_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Version     string                 `json:"version"`
	IsPublic    bool                   `json:"is_public"`
	Graph       schema.GraphDefinition `json:"graph"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	DeletedAt   *time.Time             `json:"deleted_at,omitempty"`
}

// FromSnapshot rehydrates an aggregate from persisted state without
// raising domain events.
func FromSnapshot(snap Snapshot) (*Workflow, error) {
	w := &Workflow{
		ID:           snap.ID,
		OwnerID:      snap.OwnerID,
		Name:         snap.Name,
		Description:  snap.Description,
		Version:      snap.Version,
		IsPublic:     snap.IsPublic,
		EntryPointID: snap.Graph.EntryPoint,
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    snap.UpdatedAt,
		DeletedAt:    snap.DeletedAt,
		nodeIndex:    make(map[string]*Node),
	}
	for _, nd := range snap.Graph.Nodes {
		if err := w.attachNode(nodeFromDefinition(nd)); err != nil {
			return nil, err
		}
	}
	for _, ed := range snap.Graph.Edges {
		w.attachEdge(edgeFromDefinition(ed))
	}
	w.EntryPointID = w.resolveEntryPoint(snap.Graph.EntryPoint)
	return w, nil
}

// Snapshot exports the aggregate's full persisted state.
func (w *Workflow) Snapshot() Snapshot {
	return Snapshot{
		ID:          w.ID,
		OwnerID:     w.OwnerID,
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		IsPublic:    w.IsPublic,
		Graph:       *w.Definition(),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		DeletedAt:   w.DeletedAt,
	}
}

// Definition exports the graph in the wire format.
func (w *Workflow) Definition() *schema.GraphDefinition {
	def := &schema.GraphDefinition{
		Nodes:      make([]schema.NodeDefinition, 0, len(w.nodes)),
		Edges:      make([]schema.EdgeDefinition, 0, len(w.edges)),
		EntryPoint: w.EntryPointID,
	}
	for _, n := range w.nodes {
		def.Nodes = append(def.Nodes, n.toDefinition())
	}
	for _, e := range w.edges {
		def.Edges = append(def.Edges, e.toDefinition())
	}
	return def
}

// AddNode appends a node. An empty id is generated. Returns the node,
// or a CONFLICT error when the id is already taken.
func (w *Workflow) AddNode(kind schema.NodeKind, config schema.NodeConfig, pos Position, id string) (*Node, error) {
	if id == "" {
		id = uuid.NewString()
	}
	n := &Node{ID: id, Kind: kind, Config: config, Position: pos}
	if err := w.attachNode(n); err != nil {
		return nil, err
	}
	if w.EntryPointID == "" {
		w.EntryPointID = w.resolveEntryPoint("")
	}
	w.touch()
	return n, nil
}

// RemoveNode deletes a node and every edge touching it. Removing the
// entry point re-infers it from the remaining nodes.
func (w *Workflow) RemoveNode(id string) error {
	if _, ok := w.nodeIndex[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %s not found", id)
	}
	delete(w.nodeIndex, id)
	nodes := w.nodes[:0]
	for _, n := range w.nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	w.nodes = nodes

	edges := w.edges[:0]
	for _, e := range w.edges {
		if e.SourceID != id && e.TargetID != id {
			edges = append(edges, e)
		}
	}
	w.edges = edges

	if w.EntryPointID == id {
		w.EntryPointID = w.resolveEntryPoint("")
	}
	w.touch()
	return nil
}

// AddEdge connects two existing nodes. An empty id is generated.
// Both endpoints must resolve, and a conditional edge must carry a
// condition expression.
func (w *Workflow) AddEdge(sourceID, targetID string, kind schema.EdgeKind, condition *schema.EdgeCondition, label, id string) (*Edge, error) {
	if _, ok := w.nodeIndex[sourceID]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge source node %s not found", sourceID)
	}
	if _, ok := w.nodeIndex[targetID]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge target node %s not found", targetID)
	}
	if kind == schema.EdgeKindConditional && (condition == nil || condition.Expression == "") {
		return nil, schema.NewError(schema.ErrCodeValidation, "conditional edge requires a condition expression")
	}
	if id == "" {
		id = uuid.NewString()
	}
	for _, e := range w.edges {
		if e.ID == id {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "edge %s already exists", id)
		}
	}
	e := &Edge{ID: id, SourceID: sourceID, TargetID: targetID, Kind: kind, Condition: condition, Label: label}
	w.edges = append(w.edges, e)
	w.touch()
	return e, nil
}

// RemoveEdge deletes one edge by id.
func (w *Workflow) RemoveEdge(id string) error {
	for i, e := range w.edges {
		if e.ID == id {
			w.edges = append(w.edges[:i], w.edges[i+1:]...)
			w.touch()
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "edge %s not found", id)
}

// UpdateGraph replaces the whole graph in one operation and raises an
// updated event sized by the node diff.
func (w *Workflow) UpdateGraph(nodes []*Node, edges []*Edge, entryPointID string) error {
	before := make(map[string]struct{}, len(w.nodes))
	for _, n := range w.nodes {
		before[n.ID] = struct{}{}
	}

	replacement := &Workflow{nodeIndex: make(map[string]*Node, len(nodes))}
	for _, n := range nodes {
		if err := replacement.attachNode(n); err != nil {
			return err
		}
	}
	for _, e := range edges {
		replacement.attachEdge(e)
	}

	w.nodes = replacement.nodes
	w.edges = replacement.edges
	w.nodeIndex = replacement.nodeIndex
	w.EntryPointID = w.resolveEntryPoint(entryPointID)

	added, removed := 0, 0
	for _, n := range w.nodes {
		if _, existed := before[n.ID]; !existed {
			added++
		}
		delete(before, n.ID)
	}
	removed = len(before)

	w.record(EventWorkflowUpdated, map[string]any{
		"nodes_added":   added,
		"nodes_removed": removed,
		"node_count":    len(w.nodes),
		"edge_count":    len(w.edges),
	})
	w.touch()
	return nil
}

// Clone deep-copies the graph into a brand-new aggregate owned by
// newOwner. Run history and domain events do not travel; the clone
// starts private.
func (w *Workflow) Clone(newOwnerID, newName string) (*Workflow, error) {
	if newName == "" {
		newName = w.Name + " (copy)"
	}
	nodes := make([]*Node, 0, len(w.nodes))
	for _, n := range w.nodes {
		nodes = append(nodes, n.clone())
	}
	edges := make([]*Edge, 0, len(w.edges))
	for _, e := range w.edges {
		edges = append(edges, e.clone())
	}
	return Create(CreateParams{
		OwnerID:      newOwnerID,
		Name:         newName,
		Description:  w.Description,
		Version:      "1",
		EntryPointID: w.EntryPointID,
		Nodes:        nodes,
		Edges:        edges,
	})
}

// SoftDelete marks the workflow deleted by timestamp; the record stays.
func (w *Workflow) SoftDelete() {
	if w.DeletedAt != nil {
		return
	}
	now := time.Now().UTC()
	w.DeletedAt = &now
	w.touch()
}

// Active reports whether the workflow has not been soft-deleted.
func (w *Workflow) Active() bool { return w.DeletedAt == nil }

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node { return w.nodeIndex[id] }

// Nodes returns the nodes in insertion order.
func (w *Workflow) Nodes() []*Node {
	out := make([]*Node, len(w.nodes))
	copy(out, w.nodes)
	return out
}

// Edges returns the edges in insertion order.
func (w *Workflow) Edges() []*Edge {
	out := make([]*Edge, len(w.edges))
	copy(out, w.edges)
	return out
}

// NodeCount returns the number of nodes.
func (w *Workflow) NodeCount() int { return len(w.nodes) }

// EdgeCount returns the number of edges.
func (w *Workflow) EdgeCount() int { return len(w.edges) }

// OutgoingEdges returns the edges leaving a node, in insertion order.
// Routing depends on this order being stable.
func (w *Workflow) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range w.edges {
		if e.SourceID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EntryNode resolves the node a run starts at: the explicit entry
// point, else the first entry-like node, else the first node. Nil for
// an empty graph.
func (w *Workflow) EntryNode() *Node {
	if n, ok := w.nodeIndex[w.EntryPointID]; ok {
		return n
	}
	if id := w.resolveEntryPoint(""); id != "" {
		return w.nodeIndex[id]
	}
	return nil
}

// resolveEntryPoint applies the entry-point inference rules against
// the current node set.
func (w *Workflow) resolveEntryPoint(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if w.EntryPointID != "" {
		if _, ok := w.nodeIndex[w.EntryPointID]; ok {
			return w.EntryPointID
		}
	}
	for _, n := range w.nodes {
		if n.Kind.IsEntryLike() {
			return n.ID
		}
	}
	if len(w.nodes) > 0 {
		return w.nodes[0].ID
	}
	return ""
}

func (w *Workflow) attachNode(n *Node) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, exists := w.nodeIndex[n.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node %s already exists", n.ID)
	}
	w.nodes = append(w.nodes, n)
	w.nodeIndex[n.ID] = n
	return nil
}

func (w *Workflow) attachEdge(e *Edge) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	w.edges = append(w.edges, e)
}

func (w *Workflow) touch() {
	w.UpdatedAt = time.Now().UTC()
}
