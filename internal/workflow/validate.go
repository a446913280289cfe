package workflow

import (
	"sort"

	"github.com/weftlabs/weft/pkg/schema"
)

// Validate checks the graph's structural soundness and returns every
// error and warning found. Warnings never block execution. A validated
// domain event carrying the outcome is raised on each call.
func (w *Workflow) Validate() *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(w.nodes) == 0 {
		result.AddError("workflow", schema.ErrCodeValidation, "workflow must have at least one node")
		w.recordValidated(result)
		return result
	}

	if _, ok := w.nodeIndex[w.EntryPointID]; !ok {
		result.AddErrorf("workflow", schema.ErrCodeValidation,
			"entry point %q does not resolve to a node", w.EntryPointID)
	}

	w.validateEdges(result)
	w.validateCycles(result)
	w.validateReachability(result)

	hasExit := false
	for _, n := range w.nodes {
		if n.Kind.IsExit() {
			hasExit = true
			break
		}
	}
	if !hasExit {
		result.AddWarning("workflow", schema.ErrCodeValidation, "workflow has no exit node")
	}

	w.recordValidated(result)
	return result
}

func (w *Workflow) recordValidated(result *schema.ValidationResult) {
	w.record(EventWorkflowValidated, map[string]any{
		"valid":         result.Valid(),
		"error_count":   len(result.Errors),
		"warning_count": len(result.Warnings),
	})
}

func (w *Workflow) validateEdges(result *schema.ValidationResult) {
	for _, e := range w.edges {
		if _, ok := w.nodeIndex[e.SourceID]; !ok {
			result.AddErrorf("edges/"+e.ID, schema.ErrCodeValidation,
				"edge %s references missing source node %q", e.ID, e.SourceID)
		}
		if _, ok := w.nodeIndex[e.TargetID]; !ok {
			result.AddErrorf("edges/"+e.ID, schema.ErrCodeValidation,
				"edge %s references missing target node %q", e.ID, e.TargetID)
		}
		if e.Kind == schema.EdgeKindConditional && (e.Condition == nil || e.Condition.Expression == "") {
			result.AddErrorf("edges/"+e.ID, schema.ErrCodeValidation,
				"conditional edge %s has no condition expression", e.ID)
		}
		if e.SourceID == e.TargetID {
			result.AddWarningf("edges/"+e.ID, schema.ErrCodeValidation,
				"edge %s is a self-loop on node %q", e.ID, e.SourceID)
		}
	}
}

// validateCycles runs depth-first search over the adjacency and reports
// every back edge found. A cycle is an intentional loop (warning) when
// at least one node on its path is loop-kind, otherwise an error.
func (w *Workflow) validateCycles(result *schema.ValidationResult) {
	adjacency := w.adjacency()

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(w.nodes))
	var path []string
	onPath := make(map[string]int, len(w.nodes)) // node id -> index in path

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		onPath[id] = len(path)
		path = append(path, id)

		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge: the cycle is path[onPath[next]:] closing at next.
				cycle := append([]string(nil), path[onPath[next]:]...)
				w.reportCycle(result, cycle)
			}
		}

		path = path[:len(path)-1]
		delete(onPath, id)
		color[id] = black
	}

	for _, n := range w.nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
}

func (w *Workflow) reportCycle(result *schema.ValidationResult, cycle []string) {
	intentional := false
	for _, id := range cycle {
		if n := w.nodeIndex[id]; n != nil && n.Kind == schema.NodeKindLoop {
			intentional = true
			break
		}
	}
	path := joinCycle(cycle)
	if intentional {
		result.AddWarningf("workflow", schema.ErrCodeValidation,
			"intentional loop cycle: %s", path)
		return
	}
	result.AddErrorf("workflow", schema.ErrCodeValidation,
		"workflow contains a cycle with no loop node: %s", path)
}

// validateReachability runs breadth-first search from the entry point
// and warns about every node it cannot reach.
func (w *Workflow) validateReachability(result *schema.ValidationResult) {
	entry := w.EntryNode()
	if entry == nil {
		return
	}
	adjacency := w.adjacency()

	reached := map[string]bool{entry.ID: true}
	queue := []string{entry.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var disconnected []string
	for _, n := range w.nodes {
		if !reached[n.ID] {
			disconnected = append(disconnected, n.ID)
		}
	}
	sort.Strings(disconnected)
	for _, id := range disconnected {
		result.AddWarningf("nodes/"+id, schema.ErrCodeValidation,
			"node %q is disconnected from the entry point", id)
	}
}

// adjacency builds source -> targets lists over every edge kind, in
// edge insertion order. Edges with missing endpoints are skipped; the
// edge pass reports them.
func (w *Workflow) adjacency() map[string][]string {
	adj := make(map[string][]string, len(w.nodes))
	for _, e := range w.edges {
		if _, ok := w.nodeIndex[e.SourceID]; !ok {
			continue
		}
		if _, ok := w.nodeIndex[e.TargetID]; !ok {
			continue
		}
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
	}
	return adj
}

func joinCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	out := cycle[0]
	for _, id := range cycle[1:] {
		out += " -> " + id
	}
	return out + " -> " + cycle[0]
}
