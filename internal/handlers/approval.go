package handlers

import (
	"context"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// ApprovalRequest describes a pending human decision.
type ApprovalRequest struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

// ApprovalDecision is the outcome of an approval request.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// ApprovalService is the port to whatever collects human decisions. The
// call blocks until a decision arrives or the context ends; the engine
// holds the node open for its duration.
type ApprovalService interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (*ApprovalDecision, error)
}

// Approval gates the walk on a human decision. A denial is a successful
// node whose output carries approved=false, so graphs route on it with a
// condition rather than treating denial as an error.
type Approval struct {
	service  ApprovalService
	resolver *expressions.Resolver
}

// NewApproval creates the approval node handler.
func NewApproval(service ApprovalService, resolver *expressions.Resolver) *Approval {
	if resolver == nil {
		resolver = expressions.NewResolver()
	}
	return &Approval{service: service, resolver: resolver}
}

func (h *Approval) Kind() schema.NodeKind { return schema.NodeKindApproval }

func (h *Approval) Validate(workflow.Node) []string { return nil }

func (h *Approval) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	if h.service == nil {
		return Failf(schema.ErrCodeExecution, "approval node %q: no approval service configured", node.ID), nil
	}

	message := "approval required"
	if tpl := node.Config.ExtraString("message", ""); tpl != "" {
		message = h.resolver.Resolve(tpl, runScope(run))
	}

	req := ApprovalRequest{
		RunID:      runID(run),
		WorkflowID: workflowID(run),
		NodeID:     node.ID,
		Message:    message,
		Details:    input,
	}

	decision, err := h.service.RequestApproval(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "approval interrupted").WithCause(ctx.Err()).WithNode(node.ID)
		}
		return Failf(schema.ErrCodeExecution, "approval node %q: %v", node.ID, err), nil
	}
	if decision == nil {
		return Failf(schema.ErrCodeExecution, "approval node %q: empty decision", node.ID), nil
	}

	return OK(map[string]any{
		"approved": decision.Approved,
		"approver": decision.Approver,
		"comment":  decision.Comment,
		"message":  message,
	}), nil
}

func workflowID(run *execution.Context) string {
	if run == nil {
		return ""
	}
	return run.WorkflowID
}
