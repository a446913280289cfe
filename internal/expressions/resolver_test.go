package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- helpers ---

func testScope() Scope {
	return NewScope(
		map[string]any{
			"ticket":   "TK-42",
			"priority": "high",
			"count":    float64(3),
			"customer": map[string]any{"name": "Ada", "tier": "gold"},
		},
		map[string]any{
			"stage":           "triage",
			"loop_iterations": float64(2),
		},
		map[string]map[string]any{
			"classify": {
				"label":      "billing",
				"confidence": 0.92,
				"tags":       []any{"invoice", "refund"},
			},
		},
	)
}

// --- Resolve tests ---

func TestResolver_NoPlaceholders(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "plain text", r.Resolve("plain text", testScope()))
	assert.Equal(t, "", r.Resolve("", testScope()))
}

func TestResolver_InputReference(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "ticket TK-42 is high", r.Resolve("ticket {{input.ticket}} is {{input.priority}}", testScope()))
}

func TestResolver_VarsReference(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "stage=triage", r.Resolve("stage={{vars.stage}}", testScope()))
}

func TestResolver_NodeOutputReference(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "label: billing", r.Resolve("label: {{nodes.classify.label}}", testScope()))
}

func TestResolver_NestedPath(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "Ada (gold)", r.Resolve("{{input.customer.name}} ({{input.customer.tier}})", testScope()))
}

func TestResolver_DottedKeyDirectLookup(t *testing.T) {
	r := NewResolver()
	scope := NewScope(map[string]any{"a.b": "direct"}, nil, nil)
	assert.Equal(t, "direct", r.Resolve("{{input.a.b}}", scope))
}

func TestResolver_MissingReferenceResolvesEmpty(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	assert.Equal(t, "value: ", r.Resolve("value: {{input.missing}}", scope))
	assert.Equal(t, "", r.Resolve("{{vars.nope}}", scope))
	assert.Equal(t, "", r.Resolve("{{nodes.ghost.label}}", scope))
	assert.Equal(t, "", r.Resolve("{{nodes.classify.missing}}", scope))
}

func TestResolver_UnrecognizedPlaceholderKeptVerbatim(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	assert.Equal(t, "{{secrets.api_key}}", r.Resolve("{{secrets.api_key}}", scope))
	assert.Equal(t, "a {{unknown}} b", r.Resolve("a {{unknown}} b", scope))
}

func TestResolver_UnterminatedPlaceholderPassthrough(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "broken {{input.ticket", r.Resolve("broken {{input.ticket", testScope()))
	assert.Equal(t, "TK-42 then {{vars.x", r.Resolve("{{input.ticket}} then {{vars.x", testScope()))
}

func TestResolver_NumberAndBoolRendering(t *testing.T) {
	r := NewResolver()
	scope := NewScope(map[string]any{
		"n":     float64(3),
		"ratio": 0.5,
		"big":   int64(9000),
		"ok":    true,
	}, nil, nil)

	assert.Equal(t, "n=3", r.Resolve("n={{input.n}}", scope))
	assert.Equal(t, "ratio=0.5", r.Resolve("ratio={{input.ratio}}", scope))
	assert.Equal(t, "big=9000", r.Resolve("big={{input.big}}", scope))
	assert.Equal(t, "ok=true", r.Resolve("ok={{input.ok}}", scope))
}

func TestResolver_CompositeRendersAsJSON(t *testing.T) {
	r := NewResolver()
	out := r.Resolve("customer={{input.customer}}", testScope())

	assert.Contains(t, out, `"name":"Ada"`)
	assert.Contains(t, out, `"tier":"gold"`)
}

func TestResolver_WhitespaceInsideBraces(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "TK-42", r.Resolve("{{ input.ticket }}", testScope()))
}

// --- ResolveValue tests ---

func TestResolver_ResolveValue_WholePlaceholderKeepsType(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	val := r.ResolveValue("{{nodes.classify.tags}}", scope)
	tags, ok := val.([]any)
	assert.True(t, ok)
	assert.Len(t, tags, 2)

	conf := r.ResolveValue("{{nodes.classify.confidence}}", scope)
	assert.Equal(t, 0.92, conf)
}

func TestResolver_ResolveValue_BareReference(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	assert.Equal(t, "TK-42", r.ResolveValue("input.ticket", scope))
	assert.Equal(t, "triage", r.ResolveValue("vars.stage", scope))
	assert.Equal(t, "billing", r.ResolveValue("nodes.classify.label", scope))
}

func TestResolver_ResolveValue_MissingReferenceIsNil(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	assert.Nil(t, r.ResolveValue("{{input.missing}}", scope))
	assert.Nil(t, r.ResolveValue("nodes.ghost.out", scope))
}

func TestResolver_ResolveValue_LiteralPassthrough(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	assert.Equal(t, "hello", r.ResolveValue("hello", scope))
	assert.Equal(t, "inputs are fun", r.ResolveValue("inputs are fun", scope))
}

func TestResolver_ResolveValue_EmbeddedTemplate(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, "ticket=TK-42", r.ResolveValue("ticket={{input.ticket}}", testScope()))
}

func TestResolver_ResolveValue_MultiplePlaceholdersResolveAsTemplate(t *testing.T) {
	r := NewResolver()
	val := r.ResolveValue("{{input.ticket}}/{{vars.stage}}", testScope())
	assert.Equal(t, "TK-42/triage", val)
}

// --- ResolveMap tests ---

func TestResolver_ResolveMap(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	out := r.ResolveMap(map[string]string{
		"id":    "{{input.ticket}}",
		"label": "nodes.classify.label",
		"note":  "escalated",
	}, scope)

	assert.Equal(t, "TK-42", out["id"])
	assert.Equal(t, "billing", out["label"])
	assert.Equal(t, "escalated", out["note"])
}

func TestResolver_ResolveMap_Nil(t *testing.T) {
	r := NewResolver()
	assert.Nil(t, r.ResolveMap(nil, testScope()))
}

// --- Scope tests ---

func TestNewScope_NormalizesNil(t *testing.T) {
	scope := NewScope(nil, nil, nil)
	assert.NotNil(t, scope.Input)
	assert.NotNil(t, scope.Vars)
	assert.NotNil(t, scope.Nodes)

	activation := scope.Activation()
	assert.NotNil(t, activation["input"])
	assert.NotNil(t, activation["vars"])
	assert.NotNil(t, activation["nodes"])
}
