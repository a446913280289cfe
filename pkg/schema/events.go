package schema

import "time"

// Stream event types, emitted in order during a run: one
// execution_started, a node_started/node_completed pair per visited
// node, and exactly one execution_completed or execution_failed.
const (
	EventExecutionStarted   = "execution_started"
	EventNodeStarted        = "node_started"
	EventNodeCompleted      = "node_completed"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
)

// StreamEvent is one tagged record in a run's event stream. Fields are
// populated according to Type; Timestamp is always set.
type StreamEvent struct {
	Type       string          `json:"type"`
	RunID      string          `json:"run_id,omitempty"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	NodeID     string          `json:"node_id,omitempty"`
	NodeKind   NodeKind        `json:"node_kind,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Status     ExecutionStatus `json:"status,omitempty"`
	Output     map[string]any  `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
