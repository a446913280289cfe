package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/weftlabs/weft/internal/diagram"
	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// handleDefine validates a graph definition and persists it as a new
// workflow. A definition that fails validation is reported, not stored.
func (s *WeftServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	def, verr := s.parseDefinition(defRaw)
	if verr != nil {
		return validationFailure(verr)
	}

	wf, createErr := workflow.CreateFromDefinition(userID, name, def)
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", createErr)), nil
	}
	wf.Description = req.GetString("description", "")

	result := wf.Validate()
	if !result.Valid() {
		return marshalResult(map[string]any{
			"valid":    false,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
	}

	if saveErr := s.store.SaveWorkflow(ctx, wf.Snapshot()); saveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store workflow: %v", saveErr)), nil
	}
	s.appendAudit(ctx, wf, userID)

	s.logger.Info("workflow defined",
		"workflow_id", wf.ID, "name", name, "user_id", userID)

	return marshalResult(map[string]any{
		"workflow_id": wf.ID,
		"name":        name,
		"valid":       true,
		"warnings":    result.Warnings,
	})
}

// handleValidate reports errors and warnings for a stored workflow or
// an inline definition without persisting anything.
func (s *WeftServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	defRaw := mcp.ParseStringMap(req, "definition", nil)

	var wf *workflow.Workflow
	switch {
	case defRaw != nil:
		def, verr := s.parseDefinition(defRaw)
		if verr != nil {
			return validationFailure(verr)
		}
		built, createErr := workflow.CreateFromDefinition("", "inline", def)
		if createErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", createErr)), nil
		}
		wf = built
	case workflowID != "":
		loaded, loadErr := s.loadWorkflow(ctx, workflowID)
		if loadErr != nil {
			return mcp.NewToolResultError(loadErr.Error()), nil
		}
		wf = loaded
	default:
		return mcp.NewToolResultError("either workflow_id or definition is required"), nil
	}

	result := wf.Validate()
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleRun executes a stored workflow. With stream:true the node-by-
// node event sequence is collected and returned alongside the outcome.
func (s *WeftServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)
	userID := req.GetString("user_id", "")
	stream := req.GetBool("stream", false)

	wf, loadErr := s.loadWorkflow(ctx, workflowID)
	if loadErr != nil {
		return mcp.NewToolResultError(loadErr.Error()), nil
	}

	params := engine.RunParams{Workflow: wf, Input: input, UserID: userID}

	if stream {
		events, streamErr := s.runner.ExecuteStream(ctx, params)
		if streamErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", streamErr)), nil
		}
		collected := make([]schema.StreamEvent, 0, 8)
		for ev := range events {
			collected = append(collected, ev)
		}
		// A cancelled request context can close the stream before the
		// first event is sent.
		if len(collected) == 0 {
			return mcp.NewToolResultError("run produced no events: request cancelled before the run started"), nil
		}
		final := collected[len(collected)-1]
		return marshalResult(map[string]any{
			"run_id": final.RunID,
			"status": final.Status,
			"output": final.Output,
			"error":  final.Error,
			"events": collected,
		})
	}

	exec, runErr := s.runner.Execute(ctx, params)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
	}
	return marshalResult(runSummary(exec))
}

// handleStatus returns the full run record, step records included.
func (s *WeftServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	exec, getErr := s.store.GetExecution(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}
	return marshalResult(exec)
}

// handleQuery lists workflows or executions.
func (s *WeftServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleRender returns a Mermaid flowchart of the workflow, optionally
// overlaying a run's step statuses.
func (s *WeftServer) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, loadErr := s.loadWorkflow(ctx, workflowID)
	if loadErr != nil {
		return mcp.NewToolResultError(loadErr.Error()), nil
	}

	var run *execution.Execution
	if runID := req.GetString("run_id", ""); runID != "" {
		exec, getErr := s.store.GetExecution(ctx, runID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
		}
		if exec.WorkflowID != wf.ID {
			return mcp.NewToolResultError("run does not belong to this workflow"), nil
		}
		run = exec
	}

	text := diagram.RenderMermaid(diagram.FromWorkflow(wf, run))
	return mcp.NewToolResultText(text), nil
}

// --- Query helpers ---

func (s *WeftServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wfFilter := store.WorkflowFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if ownerID, ok := filter["owner_id"].(string); ok {
		wfFilter.OwnerID = ownerID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			wfFilter.Since = &t
		}
	}

	snaps, err := s.store.ListWorkflows(ctx, wfFilter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": snaps})
}

func (s *WeftServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	execFilter := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if workflowID, ok := filter["workflow_id"].(string); ok {
		execFilter.WorkflowID = workflowID
	}
	if userID, ok := filter["user_id"].(string); ok {
		execFilter.UserID = userID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		execFilter.Status = &es
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			execFilter.Since = &t
		}
	}

	execs, err := s.store.ListExecutions(ctx, execFilter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

// --- Internal helpers ---

// parseDefinition runs the raw definition object through the structural
// validator.
func (s *WeftServer) parseDefinition(raw map[string]any) (*schema.GraphDefinition, *schema.WeftError) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid definition: %v", err)
	}
	def, vErr := s.validator.ValidateDocument(data)
	if vErr != nil {
		var werr *schema.WeftError
		if errors.As(vErr, &werr) {
			return nil, werr
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%v", vErr)
	}
	return def, nil
}

// appendAudit drains the aggregate's domain events into the audit log.
// Best-effort: the workflow is already stored, so an audit failure is
// logged rather than surfaced.
func (s *WeftServer) appendAudit(ctx context.Context, wf *workflow.Workflow, actorID string) {
	for _, ev := range wf.PullEvents() {
		entry := &store.AuditEvent{
			WorkflowID: ev.WorkflowID,
			Type:       string(ev.Type),
			Details:    ev.Details,
			ActorID:    actorID,
			Timestamp:  ev.OccurredAt,
		}
		if err := s.store.AppendAudit(ctx, entry); err != nil {
			s.logger.Warn("audit append failed",
				"workflow_id", wf.ID, "event", entry.Type, "error", err.Error())
		}
	}
}

func (s *WeftServer) loadWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	snap, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("workflow lookup failed: %w", err)
	}
	wf, err := workflow.FromSnapshot(*snap)
	if err != nil {
		return nil, fmt.Errorf("workflow %s could not be loaded: %w", id, err)
	}
	return wf, nil
}

// validationFailure renders a structural validation error as a report,
// not a tool error, so agents can repair and retry.
func validationFailure(verr *schema.WeftError) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{
		"valid": false,
		"errors": []map[string]any{{
			"code":    verr.Code,
			"message": verr.Message,
			"details": verr.Details,
		}},
	})
}

func runSummary(exec *execution.Execution) map[string]any {
	summary := map[string]any{
		"run_id":      exec.ID,
		"workflow_id": exec.WorkflowID,
		"status":      exec.Status,
		"output":      exec.Output,
		"steps":       len(exec.Steps),
	}
	if exec.ErrorMessage != "" {
		summary["error"] = exec.ErrorMessage
		summary["error_code"] = exec.ErrorCode
	}
	return summary
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	switch val := filter[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
