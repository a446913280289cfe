// End-to-end: the MCP tool surface wired to a real executor, handler
// registry, and store, exercising define → run → status → render the
// way an agent would, plus a scheduler launch through the same engine.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/handlers"
	"github.com/weftlabs/weft/internal/scheduler"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/streaming"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/pkg/mcp"
	"github.com/weftlabs/weft/pkg/schema"
)

type testEnv struct {
	store    *store.MemoryStore
	hub      *streaming.MemoryHub
	executor *engine.Executor
	server   *mcp.WeftServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conditions, err := expressions.NewConditionEvaluator(logger)
	require.NoError(t, err)
	resolver := expressions.NewResolver()

	registry := handlers.NewRegistry()
	require.NoError(t, handlers.RegisterBuiltins(registry, handlers.BuiltinDeps{
		Conditions: conditions,
		JQ:         expressions.NewJQEngine(),
		Logic:      expressions.NewLogicEngine(),
		Resolver:   resolver,
	}))

	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()

	executor, err := engine.New(engine.Deps{
		Registry:   registry,
		Conditions: conditions,
		Resolver:   resolver,
		Executions: st,
		Hub:        hub,
		Logger:     logger,
	}, engine.Options{})
	require.NoError(t, err)

	validator, err := validation.NewGraphValidator()
	require.NoError(t, err)

	server := mcp.NewWeftServer(mcp.WeftServerDeps{
		Runner:    executor,
		Store:     st,
		Validator: validator,
		Logger:    logger,
	})

	return &testEnv{store: st, hub: hub, executor: executor, server: server}
}

// callTool invokes a tool through the MCP server's HandleMessage, a full
// JSON-RPC round-trip.
func (e *testEnv) callTool(t *testing.T, toolName string, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()
	ctx := context.Background()
	mcpSrv := e.server.MCPServer()

	initMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "e2e-test", "version": "1.0.0"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, mcpSrv.HandleMessage(ctx, initMsg))

	reqMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": toolName, "arguments": args},
	})
	require.NoError(t, err)

	resp := mcpSrv.HandleMessage(ctx, reqMsg)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcpgo.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))
	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcpgo.GetTextFromContent(result.Content[0])
}

func decode(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), target))
}

func escalationDefinition() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "intake", "node_type": "entry"},
			map[string]any{"id": "grade", "node_type": "condition",
				"configuration": map[string]any{"condition": `input.priority == "high"`}},
			map[string]any{"id": "escalate", "node_type": "transform",
				"configuration": map[string]any{"expression": `{route: "pager", subject: .input.subject}`}},
			map[string]any{"id": "archive", "node_type": "transform",
				"configuration": map[string]any{"expression": `{route: "backlog", subject: .input.subject}`}},
			map[string]any{"id": "done", "node_type": "exit"},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source_node_id": "intake", "target_node_id": "grade", "edge_type": "normal"},
			map[string]any{"id": "e2", "source_node_id": "grade", "target_node_id": "escalate", "edge_type": "conditional",
				"condition": map[string]any{"expression": `input.priority == "high"`, "label": "true"}},
			map[string]any{"id": "e3", "source_node_id": "grade", "target_node_id": "archive", "edge_type": "conditional",
				"condition": map[string]any{"expression": `input.priority != "high"`, "label": "false"}},
			map[string]any{"id": "e4", "source_node_id": "escalate", "target_node_id": "done", "edge_type": "normal"},
			map[string]any{"id": "e5", "source_node_id": "archive", "target_node_id": "done", "edge_type": "normal"},
		},
		"entry_point": "intake",
	}
}

func TestDefineRunStatusRender(t *testing.T) {
	env := newTestEnv(t)

	defineRes := env.callTool(t, "weft.define", map[string]any{
		"name":       "escalation",
		"user_id":    "agent-7",
		"definition": escalationDefinition(),
	})
	require.False(t, defineRes.IsError)
	var defined struct {
		WorkflowID string `json:"workflow_id"`
		Valid      bool   `json:"valid"`
	}
	decode(t, defineRes, &defined)
	require.True(t, defined.Valid)
	require.NotEmpty(t, defined.WorkflowID)

	// high priority: intake → grade → escalate → done
	runRes := env.callTool(t, "weft.run", map[string]any{
		"workflow_id": defined.WorkflowID,
		"user_id":     "agent-7",
		"input":       map[string]any{"priority": "high", "subject": "db down"},
	})
	require.False(t, runRes.IsError)
	var run struct {
		RunID  string         `json:"run_id"`
		Status string         `json:"status"`
		Output map[string]any `json:"output"`
		Steps  int            `json:"steps"`
	}
	decode(t, runRes, &run)
	assert.Equal(t, "completed", run.Status)
	// The exit node passes the run input through, so the run output is
	// the caller's payload; the transform's result lives on its step.
	assert.Equal(t, "high", run.Output["priority"])
	assert.Equal(t, 4, run.Steps)

	// status reads the persisted record back
	statusRes := env.callTool(t, "weft.status", map[string]any{"run_id": run.RunID})
	require.False(t, statusRes.IsError)
	var exec execution.Execution
	decode(t, statusRes, &exec)
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
	require.Len(t, exec.Steps, 4)
	assert.Equal(t, "escalate", exec.Steps[2].NodeID)
	assert.Equal(t, "pager", exec.Steps[2].Output["route"])

	// render with the run overlay
	renderRes := env.callTool(t, "weft.render", map[string]any{
		"workflow_id": defined.WorkflowID,
		"run_id":      run.RunID,
	})
	require.False(t, renderRes.IsError)
	text := resultText(t, renderRes)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "class escalate completed")
	assert.NotContains(t, text, "class archive")

	// query sees exactly one execution for this workflow
	queryRes := env.callTool(t, "weft.query", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"workflow_id": defined.WorkflowID},
	})
	var listed struct {
		Executions []execution.Execution `json:"executions"`
	}
	decode(t, queryRes, &listed)
	assert.Len(t, listed.Executions, 1)
}

func TestRunStreamedMatchesHub(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	defineRes := env.callTool(t, "weft.define", map[string]any{
		"name":       "escalation",
		"user_id":    "agent-7",
		"definition": escalationDefinition(),
	})
	var defined struct {
		WorkflowID string `json:"workflow_id"`
	}
	decode(t, defineRes, &defined)

	// Watch the hub from outside the run.
	events, cancel, err := env.hub.Subscribe(ctx, streaming.EventFilter{})
	require.NoError(t, err)
	defer cancel()

	runRes := env.callTool(t, "weft.run", map[string]any{
		"workflow_id": defined.WorkflowID,
		"input":       map[string]any{"priority": "low", "subject": "typo"},
		"stream":      true,
	})
	require.False(t, runRes.IsError)

	var run struct {
		Status string               `json:"status"`
		Events []schema.StreamEvent `json:"events"`
	}
	decode(t, runRes, &run)
	assert.Equal(t, "completed", run.Status)
	// intake, grade, archive, done: two events each, plus start and finish.
	require.Len(t, run.Events, 10)
	assert.Equal(t, schema.EventExecutionStarted, run.Events[0].Type)
	assert.Equal(t, schema.EventExecutionCompleted, run.Events[len(run.Events)-1].Type)

	// The hub mirrored the same sequence.
	mirrored := make([]schema.StreamEvent, 0, len(run.Events))
	deadline := time.After(2 * time.Second)
	for len(mirrored) < len(run.Events) {
		select {
		case ev := <-events:
			mirrored = append(mirrored, ev)
		case <-deadline:
			t.Fatalf("hub mirrored only %d of %d events", len(mirrored), len(run.Events))
		}
	}
	assert.Equal(t, run.Events[0].RunID, mirrored[0].RunID)
	assert.Equal(t, schema.EventExecutionCompleted, mirrored[len(mirrored)-1].Type)
}

func TestValidateRejectsBrokenGraph(t *testing.T) {
	env := newTestEnv(t)

	def := escalationDefinition()
	def["edges"] = []any{} // everything but the entry is unreachable

	res := env.callTool(t, "weft.validate", map[string]any{"definition": def})
	require.False(t, res.IsError)

	var out struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	decode(t, res, &out)
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Errors)
}

func TestScheduledWorkflowRunsThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := map[string]any{
		"nodes": []any{
			map[string]any{"id": "tick", "node_type": "schedule",
				"configuration": map[string]any{"cron": "* * * * *"}},
			map[string]any{"id": "stamp", "node_type": "transform",
				"configuration": map[string]any{"expression": `{seen: .input.scheduled_at}`}},
			map[string]any{"id": "done", "node_type": "exit"},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source_node_id": "tick", "target_node_id": "stamp", "edge_type": "normal"},
			map[string]any{"id": "e2", "source_node_id": "stamp", "target_node_id": "done", "edge_type": "normal"},
		},
		"entry_point": "tick",
	}
	defineRes := env.callTool(t, "weft.define", map[string]any{
		"name": "nightly", "user_id": "agent-7", "definition": def,
	})
	require.False(t, defineRes.IsError)
	var defined struct {
		WorkflowID string `json:"workflow_id"`
	}
	decode(t, defineRes, &defined)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := engine.NewLaunchPool(2)
	sched := scheduler.New(env.store, env.executor, pool, nil, logger)

	require.NoError(t, sched.RunNow(ctx, defined.WorkflowID))
	pool.Close()

	execs, err := env.store.ListExecutions(ctx, store.ExecutionFilter{WorkflowID: defined.WorkflowID})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, schema.ExecutionStatusCompleted, execs[0].Status)
	assert.NotEmpty(t, execs[0].Input["scheduled_at"])
	require.Len(t, execs[0].Steps, 3)
	assert.NotEmpty(t, execs[0].Steps[1].Output["seen"])
}
