package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestTransform_ObjectResultBecomesOutput(t *testing.T) {
	h := NewTransform(expressions.NewJQEngine())
	node := testNode(schema.NodeKindTransform, schema.NodeConfig{
		Expression: `{id: .ticket, level: .priority}`,
	})
	input := map[string]any{"ticket": "TK-42", "priority": "high"}

	res, err := h.Execute(context.Background(), node, testRun(), input)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "TK-42", res.Output["id"])
	assert.Equal(t, "high", res.Output["level"])
}

func TestTransform_ScalarResultWrapped(t *testing.T) {
	h := NewTransform(expressions.NewJQEngine())
	node := testNode(schema.NodeKindTransform, schema.NodeConfig{Expression: `.n * 2`})

	res, err := h.Execute(context.Background(), node, testRun(), map[string]any{"n": 21})
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.Output["result"])
}

func TestTransform_EmptyInputFallsBackToRunScope(t *testing.T) {
	h := NewTransform(expressions.NewJQEngine())
	node := testNode(schema.NodeKindTransform, schema.NodeConfig{
		Expression: `{label: .nodes.classify.label, ticket: .input.ticket}`,
	})

	res, err := h.Execute(context.Background(), node, testRun(), nil)
	require.NoError(t, err)
	assert.Equal(t, "billing", res.Output["label"])
	assert.Equal(t, "TK-42", res.Output["ticket"])
}

func TestTransform_MissingExpressionFails(t *testing.T) {
	h := NewTransform(expressions.NewJQEngine())
	node := testNode(schema.NodeKindTransform, schema.NodeConfig{})

	res, err := h.Execute(context.Background(), node, testRun(), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeValidation, res.ErrorCode)
}

func TestTransform_RuntimeErrorPropagates(t *testing.T) {
	h := NewTransform(expressions.NewJQEngine())
	node := testNode(schema.NodeKindTransform, schema.NodeConfig{Expression: `.ticket.deeper`})

	_, err := h.Execute(context.Background(), node, testRun(), map[string]any{"ticket": "TK-42"})
	require.Error(t, err)
}

func TestTransform_Validate(t *testing.T) {
	h := NewTransform(expressions.NewJQEngine())

	assert.Empty(t, h.Validate(testNode(schema.NodeKindTransform, schema.NodeConfig{Expression: `.a`})))

	msgs := h.Validate(testNode(schema.NodeKindTransform, schema.NodeConfig{}))
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "missing required config 'expression'")

	msgs = h.Validate(testNode(schema.NodeKindTransform, schema.NodeConfig{Expression: `.items[`}))
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], `transform node "n1"`)
}
