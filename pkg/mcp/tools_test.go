package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// --- Mock runner ---

type mockRunner struct {
	exec     *execution.Execution
	events   []schema.StreamEvent
	err      error
	lastRun  engine.RunParams
	runCalls int
}

func (m *mockRunner) Execute(_ context.Context, p engine.RunParams) (*execution.Execution, error) {
	m.lastRun = p
	m.runCalls++
	return m.exec, m.err
}

func (m *mockRunner) ExecuteStream(_ context.Context, p engine.RunParams) (<-chan schema.StreamEvent, error) {
	m.lastRun = p
	m.runCalls++
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan schema.StreamEvent, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// --- Fixtures ---

func testServer(t *testing.T, runner Runner) (*WeftServer, *store.MemoryStore) {
	t.Helper()
	validator, err := validation.NewGraphValidator()
	require.NoError(t, err)
	st := store.NewMemoryStore()
	s := NewWeftServer(WeftServerDeps{
		Runner:    runner,
		Store:     st,
		Validator: validator,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, st
}

func triageDefinition() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "intake", "node_type": "entry"},
			map[string]any{"id": "reply", "node_type": "transform",
				"configuration": map[string]any{"expression": ".message"}},
			map[string]any{"id": "done", "node_type": "exit"},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source_node_id": "intake", "target_node_id": "reply", "edge_type": "normal"},
			map[string]any{"id": "e2", "source_node_id": "reply", "target_node_id": "done", "edge_type": "normal"},
		},
		"entry_point": "intake",
	}
}

func storedWorkflow(t *testing.T, st *store.MemoryStore) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.Create(workflow.CreateParams{
		OwnerID: "user-1",
		Name:    "triage",
		Nodes: []*workflow.Node{
			{ID: "intake", Kind: schema.NodeKindEntry},
			{ID: "done", Kind: schema.NodeKindExit},
		},
		Edges: []*workflow.Edge{
			{ID: "e1", SourceID: "intake", TargetID: "done", Kind: schema.EdgeKindNormal},
		},
		EntryPointID: "intake",
	})
	require.NoError(t, err)
	require.NoError(t, st.SaveWorkflow(context.Background(), wf.Snapshot()))
	return wf
}

func completedExec(workflowID string) *execution.Execution {
	exec := execution.New(uuid.NewString(), workflowID, "user-1", map[string]any{"k": "v"})
	exec.Start()
	exec.Complete(map[string]any{"answer": float64(42)})
	return exec
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- weft.define ---

func TestDefineTool(t *testing.T) {
	s, st := testServer(t, &mockRunner{})

	req := buildRequest("weft.define", map[string]any{
		"name":       "triage",
		"user_id":    "user-1",
		"definition": triageDefinition(),
	})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		WorkflowID string `json:"workflow_id"`
		Valid      bool   `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	require.NotEmpty(t, out.WorkflowID)

	snap, getErr := st.GetWorkflow(context.Background(), out.WorkflowID)
	require.NoError(t, getErr)
	assert.Equal(t, "triage", snap.Name)
	assert.Equal(t, "user-1", snap.OwnerID)

	// Defining drains the aggregate's events into the audit log.
	history, histErr := st.AuditHistory(context.Background(), out.WorkflowID, 0)
	require.NoError(t, histErr)
	require.Len(t, history, 2)
	assert.Equal(t, string(workflow.EventWorkflowCreated), history[0].Type)
	assert.Equal(t, string(workflow.EventWorkflowValidated), history[1].Type)
	assert.Equal(t, "user-1", history[0].ActorID)
}

func TestDefineToolStructurallyInvalid(t *testing.T) {
	s, st := testServer(t, &mockRunner{})

	def := triageDefinition()
	def["nodes"] = []any{map[string]any{"id": "intake"}} // node_type missing

	req := buildRequest("weft.define", map[string]any{
		"name": "broken", "user_id": "user-1", "definition": def,
	})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Valid  bool             `json:"valid"`
		Errors []map[string]any `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Errors)

	// Nothing was stored.
	snaps, listErr := st.ListWorkflows(context.Background(), store.WorkflowFilter{})
	require.NoError(t, listErr)
	assert.Empty(t, snaps)
}

func TestDefineToolSemanticallyInvalid(t *testing.T) {
	s, st := testServer(t, &mockRunner{})

	def := triageDefinition()
	def["edges"] = []any{} // reply and done unreachable

	req := buildRequest("weft.define", map[string]any{
		"name": "broken", "user_id": "user-1", "definition": def,
	})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Valid bool `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)

	snaps, listErr := st.ListWorkflows(context.Background(), store.WorkflowFilter{})
	require.NoError(t, listErr)
	assert.Empty(t, snaps)
}

func TestDefineToolMissingArgs(t *testing.T) {
	s, _ := testServer(t, &mockRunner{})

	result, err := s.handleDefine(context.Background(), buildRequest("weft.define", map[string]any{
		"user_id": "user-1", "definition": triageDefinition(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- weft.validate ---

func TestValidateToolInlineDefinition(t *testing.T) {
	s, _ := testServer(t, &mockRunner{})

	result, err := s.handleValidate(context.Background(), buildRequest("weft.validate", map[string]any{
		"definition": triageDefinition(),
	}))
	require.NoError(t, err)

	var out struct {
		Valid bool `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
}

func TestValidateToolStoredWorkflow(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	wf := storedWorkflow(t, st)

	result, err := s.handleValidate(context.Background(), buildRequest("weft.validate", map[string]any{
		"workflow_id": wf.ID,
	}))
	require.NoError(t, err)

	var out struct {
		Valid bool `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
}

func TestValidateToolNeitherArg(t *testing.T) {
	s, _ := testServer(t, &mockRunner{})

	result, err := s.handleValidate(context.Background(), buildRequest("weft.validate", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- weft.run ---

func TestRunToolBuffered(t *testing.T) {
	runner := &mockRunner{}
	s, st := testServer(t, runner)
	wf := storedWorkflow(t, st)
	runner.exec = completedExec(wf.ID)

	result, err := s.handleRun(context.Background(), buildRequest("weft.run", map[string]any{
		"workflow_id": wf.ID,
		"input":       map[string]any{"message": "hello"},
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		RunID  string         `json:"run_id"`
		Status string         `json:"status"`
		Output map[string]any `json:"output"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, runner.exec.ID, out.RunID)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, float64(42), out.Output["answer"])

	assert.Equal(t, wf.ID, runner.lastRun.Workflow.ID)
	assert.Equal(t, "hello", runner.lastRun.Input["message"])
	assert.Equal(t, "user-1", runner.lastRun.UserID)
}

func TestRunToolStream(t *testing.T) {
	runner := &mockRunner{}
	s, st := testServer(t, runner)
	wf := storedWorkflow(t, st)

	runner.events = []schema.StreamEvent{
		{Type: schema.EventExecutionStarted, RunID: "run-1", WorkflowID: wf.ID},
		{Type: schema.EventNodeStarted, RunID: "run-1", NodeID: "intake"},
		{Type: schema.EventNodeCompleted, RunID: "run-1", NodeID: "intake"},
		{Type: schema.EventExecutionCompleted, RunID: "run-1",
			Status: schema.ExecutionStatusCompleted, Output: map[string]any{"done": true}},
	}

	result, err := s.handleRun(context.Background(), buildRequest("weft.run", map[string]any{
		"workflow_id": wf.ID,
		"stream":      true,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		RunID  string               `json:"run_id"`
		Status string               `json:"status"`
		Events []schema.StreamEvent `json:"events"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "completed", out.Status)
	require.Len(t, out.Events, 4)
	assert.Equal(t, schema.EventExecutionStarted, out.Events[0].Type)
	assert.Equal(t, schema.EventExecutionCompleted, out.Events[3].Type)
}

func TestRunToolStreamClosedBeforeFirstEvent(t *testing.T) {
	// A run whose request context is cancelled before the first send
	// closes the stream empty; the tool must report that, not panic.
	runner := &mockRunner{}
	s, st := testServer(t, runner)
	wf := storedWorkflow(t, st)

	result, err := s.handleRun(context.Background(), buildRequest("weft.run", map[string]any{
		"workflow_id": wf.ID,
		"stream":      true,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "no events")
}

func TestRunToolUnknownWorkflow(t *testing.T) {
	s, _ := testServer(t, &mockRunner{})

	result, err := s.handleRun(context.Background(), buildRequest("weft.run", map[string]any{
		"workflow_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- weft.status ---

func TestStatusTool(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	wf := storedWorkflow(t, st)
	exec := completedExec(wf.ID)
	require.NoError(t, st.SaveExecution(context.Background(), exec))

	result, err := s.handleStatus(context.Background(), buildRequest("weft.status", map[string]any{
		"run_id": exec.ID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out execution.Execution
	unmarshalResult(t, result, &out)
	assert.Equal(t, exec.ID, out.ID)
	assert.Equal(t, schema.ExecutionStatusCompleted, out.Status)
}

func TestStatusToolNotFound(t *testing.T) {
	s, _ := testServer(t, &mockRunner{})

	result, err := s.handleStatus(context.Background(), buildRequest("weft.status", map[string]any{
		"run_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- weft.query ---

func TestQueryToolWorkflows(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	storedWorkflow(t, st)

	result, err := s.handleQuery(context.Background(), buildRequest("weft.query", map[string]any{
		"resource": "workflows",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Workflows []workflow.Snapshot `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Workflows, 1)
}

func TestQueryToolExecutions(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	wf := storedWorkflow(t, st)
	require.NoError(t, st.SaveExecution(context.Background(), completedExec(wf.ID)))
	require.NoError(t, st.SaveExecution(context.Background(), completedExec("other-wf")))

	result, err := s.handleQuery(context.Background(), buildRequest("weft.query", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"workflow_id": wf.ID},
	}))
	require.NoError(t, err)

	var out struct {
		Executions []execution.Execution `json:"executions"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Executions, 1)
	assert.Equal(t, wf.ID, out.Executions[0].WorkflowID)
}

func TestQueryToolUnknownResource(t *testing.T) {
	s, _ := testServer(t, &mockRunner{})

	result, err := s.handleQuery(context.Background(), buildRequest("weft.query", map[string]any{
		"resource": "secrets",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- weft.render ---

func TestRenderTool(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	wf := storedWorkflow(t, st)

	result, err := s.handleRender(context.Background(), buildRequest("weft.render", map[string]any{
		"workflow_id": wf.ID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "intake")
	assert.Contains(t, text, "done")
}

func TestRenderToolWithRunOverlay(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	wf := storedWorkflow(t, st)

	exec := completedExec(wf.ID)
	exec.Steps = []execution.StepRecord{
		{NodeID: "intake", NodeKind: schema.NodeKindEntry, Status: schema.StepStatusCompleted},
	}
	require.NoError(t, st.SaveExecution(context.Background(), exec))

	result, err := s.handleRender(context.Background(), buildRequest("weft.render", map[string]any{
		"workflow_id": wf.ID,
		"run_id":      exec.ID,
	}))
	require.NoError(t, err)

	text := extractText(t, result)
	assert.Contains(t, text, "class intake completed")
}

func TestRenderToolRunFromOtherWorkflow(t *testing.T) {
	s, st := testServer(t, &mockRunner{})
	wf := storedWorkflow(t, st)

	exec := completedExec("another-workflow")
	require.NoError(t, st.SaveExecution(context.Background(), exec))

	result, err := s.handleRender(context.Background(), buildRequest("weft.render", map[string]any{
		"workflow_id": wf.ID,
		"run_id":      exec.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
