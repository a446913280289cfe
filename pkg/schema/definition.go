package schema

import "encoding/json"

// GraphDefinition is the JSON-serializable workflow graph format,
// consumed on load and produced on save.
type GraphDefinition struct {
	Nodes      []NodeDefinition `json:"nodes"`
	Edges      []EdgeDefinition `json:"edges"`
	EntryPoint string           `json:"entry_point,omitempty"`
}

// NodeDefinition describes a single node. Position is display-only and
// never affects execution.
type NodeDefinition struct {
	ID        string     `json:"id"`
	Type      NodeKind   `json:"node_type"`
	Config    NodeConfig `json:"configuration"`
	PositionX float64    `json:"position_x"`
	PositionY float64    `json:"position_y"`
	RefID     string     `json:"node_ref_id,omitempty"`
}

// EdgeDefinition describes a directed connection between two nodes.
// Condition is required exactly when Type is conditional.
type EdgeDefinition struct {
	ID           string         `json:"id"`
	SourceNodeID string         `json:"source_node_id"`
	TargetNodeID string         `json:"target_node_id"`
	Type         EdgeKind       `json:"edge_type"`
	Condition    *EdgeCondition `json:"condition,omitempty"`
	Label        string         `json:"label,omitempty"`
}

// EdgeCondition is the expression guarding a conditional edge. Label
// doubles as the branch name a condition node's output is matched
// against.
type EdgeCondition struct {
	Expression string `json:"expression"`
	Label      string `json:"label,omitempty"`
}

// NodeConfig is a node's configuration bag: typed common fields plus an
// open extension map for kind-specific data. Unknown JSON keys land in
// Extra and round-trip unchanged, so node kinds the core engine does
// not know about keep their configuration intact.
type NodeConfig struct {
	Provider      string            `json:"provider,omitempty"`
	Model         string            `json:"model,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	SystemPrompt  string            `json:"system_prompt,omitempty"`
	URL           string            `json:"url,omitempty"`
	Method        string            `json:"method,omitempty"`
	Code          string            `json:"code,omitempty"`
	Condition     string            `json:"condition,omitempty"`
	Expression    string            `json:"expression,omitempty"`
	ToolID        string            `json:"tool_id,omitempty"`
	Query         string            `json:"query,omitempty"`
	Cron          string            `json:"cron,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty"`
	TimeoutMs     int64             `json:"timeout_ms,omitempty"`
	DelayMs       int64             `json:"delay_ms,omitempty"`
	InputMapping  map[string]string `json:"input_mapping,omitempty"`

	// Extra holds every configuration key not covered by a typed field.
	Extra map[string]any `json:"-"`
}

// nodeConfigAlias avoids recursive (un)marshalling of NodeConfig.
type nodeConfigAlias NodeConfig

// configKeys are the JSON keys owned by typed NodeConfig fields.
var configKeys = map[string]struct{}{
	"provider": {}, "model": {}, "temperature": {}, "max_tokens": {},
	"system_prompt": {}, "url": {}, "method": {}, "code": {},
	"condition": {}, "expression": {}, "tool_id": {}, "query": {},
	"cron": {}, "max_iterations": {}, "timeout_ms": {}, "delay_ms": {},
	"input_mapping": {},
}

// UnmarshalJSON decodes typed fields and routes unknown keys into Extra.
func (c *NodeConfig) UnmarshalJSON(data []byte) error {
	var alias nodeConfigAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, val := range raw {
		if _, typed := configKeys[key]; typed {
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]any)
		}
		alias.Extra[key] = v
	}

	*c = NodeConfig(alias)
	return nil
}

// MarshalJSON serializes typed fields and merges Extra back into the
// same flat object. Typed fields win on key collision.
func (c NodeConfig) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(nodeConfigAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return typed, nil
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+8)
	for key, val := range c.Extra {
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		merged[key] = raw
	}
	var typedMap map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, err
	}
	for key, val := range typedMap {
		merged[key] = val
	}
	return json.Marshal(merged)
}

// ExtraString returns a string value from the extension bag, or the
// default if absent or not a string.
func (c NodeConfig) ExtraString(key, defaultVal string) string {
	v, ok := c.Extra[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// ExtraStrings returns a string-slice value from the extension bag.
// JSON arrays decode as []any, so elements are coerced individually.
func (c NodeConfig) ExtraStrings(key string) []string {
	v, ok := c.Extra[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ExtraMap returns a map value from the extension bag, or nil.
func (c NodeConfig) ExtraMap(key string) map[string]any {
	v, ok := c.Extra[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
