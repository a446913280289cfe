// Package expressions provides the expression surfaces used by workflow
// nodes and edges: template resolution for {{...}} placeholders, a sandboxed
// CEL evaluator for routing conditions, a jq engine for data transformation,
// and an expr engine for code nodes. All engines cache compiled programs and
// are safe for concurrent use.
package expressions

// Scope is the read-only variable universe visible to templates and
// expressions during a run. The three namespaces mirror the placeholder
// prefixes: input.*, vars.*, and nodes.<id>.*.
type Scope struct {
	// Input holds the run's initial input payload.
	Input map[string]any

	// Vars holds mutable run variables (loop counters, handler state).
	Vars map[string]any

	// Nodes holds completed node outputs keyed by node ID.
	Nodes map[string]map[string]any
}

// NewScope builds a Scope, normalizing nil maps so that lookups and
// activations never hit a nil reference.
func NewScope(input, vars map[string]any, nodes map[string]map[string]any) Scope {
	if input == nil {
		input = map[string]any{}
	}
	if vars == nil {
		vars = map[string]any{}
	}
	if nodes == nil {
		nodes = map[string]map[string]any{}
	}
	return Scope{Input: input, Vars: vars, Nodes: nodes}
}

// Activation converts the scope into the variable map consumed by the
// expression engines. Node outputs are widened to map[string]any so that
// engines treating values as dyn can traverse them uniformly.
func (s Scope) Activation() map[string]any {
	nodes := make(map[string]any, len(s.Nodes))
	for id, out := range s.Nodes {
		if out == nil {
			nodes[id] = map[string]any{}
			continue
		}
		nodes[id] = out
	}

	activation := map[string]any{
		"input": map[string]any{},
		"vars":  map[string]any{},
		"nodes": nodes,
	}
	if s.Input != nil {
		activation["input"] = s.Input
	}
	if s.Vars != nil {
		activation["vars"] = s.Vars
	}
	return activation
}
