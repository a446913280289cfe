// Package validation checks graph-definition documents structurally,
// before they are turned into workflow aggregates. It covers the wire
// format only (required fields, enums, shapes); graph semantics such as
// cycles and reachability are the aggregate's Validate.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/weftlabs/weft/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for the graph definition format.
// Embedded as a constant to avoid filesystem dependencies. Node
// configuration is an open object: the core keys are typed, everything
// else rides in the extension bag.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://weftlabs.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "entry_point": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "node_type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "node_type": { "type": "string", "minLength": 1 },
        "configuration": { "type": "object" },
        "position_x": { "type": "number" },
        "position_y": { "type": "number" },
        "node_ref_id": { "type": "string" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source_node_id", "target_node_id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source_node_id": { "type": "string", "minLength": 1 },
        "target_node_id": { "type": "string", "minLength": 1 },
        "edge_type": {
          "type": "string",
          "enum": ["normal", "conditional", "error", "timeout", "loop_back"]
        },
        "condition": { "$ref": "#/$defs/condition" },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["expression"],
      "properties": {
        "expression": { "type": "string" },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// GraphValidator validates graph-definition JSON against the embedded
// schema. Safe for concurrent use.
type GraphValidator struct {
	compiled *jsonschema.Schema
}

// NewGraphValidator compiles the graph schema.
func NewGraphValidator() (*GraphValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://weftlabs.dev/schemas/graph.json", doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	compiled, err := c.Compile("https://weftlabs.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	return &GraphValidator{compiled: compiled}, nil
}

// ValidateDocument checks a raw JSON document against the graph schema
// and returns the decoded definition on success.
func (v *GraphValidator) ValidateDocument(raw []byte) (*schema.GraphDefinition, error) {
	if len(raw) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph definition is empty")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph definition is not valid JSON").WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return nil, toSchemaError(err)
	}

	var def schema.GraphDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph definition does not decode").WithCause(err)
	}

	// Checks JSON Schema cannot express: duplicate ids.
	if err := checkDuplicateIDs(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateDefinition checks an already-decoded definition by round-trip
// through its wire form.
func (v *GraphValidator) ValidateDefinition(def *schema.GraphDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph definition is nil")
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "graph definition does not serialize").WithCause(err)
	}
	_, err = v.ValidateDocument(raw)
	return err
}

func checkDuplicateIDs(def *schema.GraphDefinition) error {
	nodeIDs := make(map[string]struct{}, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, dup := nodeIDs[n.ID]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", n.ID)
		}
		nodeIDs[n.ID] = struct{}{}
	}
	edgeIDs := make(map[string]struct{}, len(def.Edges))
	for _, e := range def.Edges {
		if _, dup := edgeIDs[e.ID]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate edge id %q", e.ID)
		}
		edgeIDs[e.ID] = struct{}{}
	}
	return nil
}

// toSchemaError flattens a jsonschema validation error into a WeftError
// with the failing locations in its details.
func toSchemaError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error()).WithCause(err)
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("graph definition failed structural validation with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations}).
		WithCause(err)
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
