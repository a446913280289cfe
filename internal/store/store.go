// Package store is the persistence layer: workflow snapshots, run
// records, and the append-only workflow audit log. Two implementations
// exist, libSQL for durable deployments and an in-memory store for
// tests and ephemeral runs. All implementations are safe for
// concurrent use.
package store

import (
	"context"
	"time"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// WorkflowRepository persists workflow aggregates as snapshots.
// Deletion is soft: deleted workflows keep their row but disappear
// from reads.
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, snap workflow.Snapshot) error
	GetWorkflow(ctx context.Context, id string) (*workflow.Snapshot, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*workflow.Snapshot, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository persists run records. Records are upserted: the
// engine saves once at start and again at the terminal state.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, exec *execution.Execution) error
	GetExecution(ctx context.Context, id string) (*execution.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*execution.Execution, error)
}

// AuditLog records workflow aggregate changes append-only, with a
// monotonically increasing per-workflow sequence.
type AuditLog interface {
	AppendAudit(ctx context.Context, event *AuditEvent) error
	AuditHistory(ctx context.Context, workflowID string, since int64) ([]*AuditEvent, error)
}

// Store is the full persistence surface.
type Store interface {
	WorkflowRepository
	ExecutionRepository
	AuditLog

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AuditEvent is one immutable entry in a workflow's change history.
// Sequence is assigned on append.
type AuditEvent struct {
	ID         int64          `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"type"`
	Details    map[string]any `json:"details,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Sequence   int64          `json:"sequence"`
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	OwnerID string     `json:"owner_id,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Limit   int        `json:"limit,omitempty"`
	Offset  int        `json:"offset,omitempty"`
}

// ExecutionFilter specifies criteria for listing run records.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	UserID     string                  `json:"user_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}
