package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func TestJQEngine_Identity(t *testing.T) {
	e := NewJQEngine()

	out, err := e.Evaluate(context.Background(), ".", map[string]any{"a": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out)
}

func TestJQEngine_FieldProjection(t *testing.T) {
	e := NewJQEngine()
	data := map[string]any{
		"ticket": map[string]any{"id": "TK-42", "priority": "high"},
	}

	out, err := e.Evaluate(context.Background(), ".ticket.id", data)
	require.NoError(t, err)
	assert.Equal(t, "TK-42", out)
}

func TestJQEngine_ObjectConstruction(t *testing.T) {
	e := NewJQEngine()
	data := map[string]any{"name": "Ada", "tier": "gold"}

	out, err := e.Evaluate(context.Background(), `{who: .name, level: .tier}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"who": "Ada", "level": "gold"}, out)
}

func TestJQEngine_Arithmetic_NormalizesInts(t *testing.T) {
	e := NewJQEngine()

	// Callers may pass int values; jq only speaks float64.
	out, err := e.Evaluate(context.Background(), ".n + 1", map[string]any{"n": 41})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestJQEngine_MultipleOutputsCollected(t *testing.T) {
	e := NewJQEngine()
	data := map[string]any{"items": []any{float64(1), float64(2), float64(3)}}

	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)

	results, ok := out.([]any)
	require.True(t, ok)
	assert.Len(t, results, 3)
}

func TestJQEngine_SelectFilter(t *testing.T) {
	e := NewJQEngine()
	data := map[string]any{
		"items": []any{
			map[string]any{"id": "a", "score": float64(10)},
			map[string]any{"id": "b", "score": float64(90)},
		},
	}

	out, err := e.EvaluateAll(context.Background(), `.items[] | select(.score > 50)`, data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].(map[string]any)["id"])
}

func TestJQEngine_EvaluateAll_EmptyStream(t *testing.T) {
	e := NewJQEngine()

	out, err := e.EvaluateAll(context.Background(), `.items[]?`, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestJQEngine_EmptyExpression(t *testing.T) {
	e := NewJQEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)

	var werr *schema.WeftError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestJQEngine_ParseError(t *testing.T) {
	e := NewJQEngine()

	_, err := e.Evaluate(context.Background(), ".items[", map[string]any{})
	require.Error(t, err)

	var werr *schema.WeftError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestJQEngine_RuntimeError(t *testing.T) {
	e := NewJQEngine()

	// Indexing a string like an object is a jq runtime error.
	_, err := e.Evaluate(context.Background(), ".name.deeper", map[string]any{"name": "Ada"})
	require.Error(t, err)

	var werr *schema.WeftError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, schema.ErrCodeExecution, werr.Code)
}

func TestJQEngine_EnvIsBlocked(t *testing.T) {
	e := NewJQEngine()

	out, err := e.Evaluate(context.Background(), `env.HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJQEngine_Check(t *testing.T) {
	e := NewJQEngine()

	assert.NoError(t, e.Check(".items | length"))
	assert.Error(t, e.Check(".items["))
	assert.Error(t, e.Check(""))
}

func TestJQEngine_CacheReuse(t *testing.T) {
	e := NewJQEngine()
	ctx := context.Background()

	for range 10 {
		_, err := e.Evaluate(ctx, ".a", map[string]any{"a": float64(1)})
		require.NoError(t, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
