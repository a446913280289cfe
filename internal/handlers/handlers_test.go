package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// --- shared fixtures ---

func testEvaluator(t *testing.T) *expressions.ConditionEvaluator {
	t.Helper()
	eval, err := expressions.NewConditionEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return eval
}

func testRun() *execution.Context {
	run := execution.NewContext("run-1", "wf-1", "user-1", map[string]any{
		"ticket":   "TK-42",
		"priority": "high",
	})
	run.RecordOutput("classify", map[string]any{
		"label":      "billing",
		"confidence": 0.92,
		"items":      []any{float64(1), float64(2), float64(3)},
	})
	run.SetVar("stage", "triage")
	return run
}

func testNode(kind schema.NodeKind, cfg schema.NodeConfig) workflow.Node {
	return workflow.Node{ID: "n1", Kind: kind, Config: cfg}
}

// --- mock ports ---

type mockModelCaller struct {
	responses map[string]*ModelResponse
	failing   map[string]error
	calls     []ModelRequest
}

func (m *mockModelCaller) Call(_ context.Context, req ModelRequest) (*ModelResponse, error) {
	m.calls = append(m.calls, req)
	if err, ok := m.failing[req.Model]; ok {
		return nil, err
	}
	if resp, ok := m.responses[req.Model]; ok {
		return resp, nil
	}
	return nil, errors.New("unknown model " + req.Model)
}

type mockToolExecutor struct {
	result map[string]any
	err    error
	gotID  string
	gotArg map[string]any
}

func (m *mockToolExecutor) ExecuteTool(_ context.Context, toolID string, args map[string]any) (map[string]any, error) {
	m.gotID = toolID
	m.gotArg = args
	return m.result, m.err
}

type mockQuerier struct {
	rows     []map[string]any
	err      error
	gotQuery string
	gotArgs  []any
}

func (m *mockQuerier) Query(_ context.Context, query string, args ...any) ([]map[string]any, error) {
	m.gotQuery = query
	m.gotArgs = args
	return m.rows, m.err
}

type mockApprovals struct {
	decision *ApprovalDecision
	err      error
	gotReq   ApprovalRequest
}

func (m *mockApprovals) RequestApproval(_ context.Context, req ApprovalRequest) (*ApprovalDecision, error) {
	m.gotReq = req
	return m.decision, m.err
}
