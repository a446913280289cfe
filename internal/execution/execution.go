package execution

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/schema"
)

// StepRecord is the audit entry for one node execution within a run.
type StepRecord struct {
	NodeID       string            `json:"node_id"`
	NodeKind     schema.NodeKind   `json:"node_kind"`
	Status       schema.StepStatus `json:"status"`
	Input        map[string]any    `json:"input,omitempty"`
	Output       map[string]any    `json:"output,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
}

// Execution is the persisted record of one run. It is created pending,
// mutated only through its transition methods, and final once any
// terminal status is reached. The executor is the only caller of the
// transitions; an invalid transition is a programming error surfaced
// as an INVALID_TRANSITION error.
type Execution struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	UserID          string                 `json:"user_id"`
	Status          schema.ExecutionStatus `json:"status"`
	Input           map[string]any         `json:"input,omitempty"`
	Output          map[string]any         `json:"output,omitempty"`
	ContextSnapshot json.RawMessage        `json:"context_snapshot,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorCode       string                 `json:"error_code,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Steps           []StepRecord           `json:"steps,omitempty"`
}

// validTransitions is the complete state machine: pending starts,
// running ends in exactly one of four terminal states.
var validTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending: {schema.ExecutionStatusRunning},
	schema.ExecutionStatusRunning: {
		schema.ExecutionStatusCompleted,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusTimeout,
		schema.ExecutionStatusCancelled,
	},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusTimeout:   {},
	schema.ExecutionStatusCancelled: {},
}

// New creates an execution record in pending state. An empty runID is
// generated.
func New(runID, workflowID, userID string, input map[string]any) *Execution {
	if runID == "" {
		runID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Execution{
		ID:         runID,
		WorkflowID: workflowID,
		UserID:     userID,
		Status:     schema.ExecutionStatusPending,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (e *Execution) transition(to schema.ExecutionStatus) error {
	for _, allowed := range validTransitions[e.Status] {
		if allowed == to {
			e.Status = to
			e.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"cannot transition execution %s from %s to %s", e.ID, e.Status, to)
}

// Start moves pending -> running and stamps the start time.
func (e *Execution) Start() error {
	if err := e.transition(schema.ExecutionStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.StartedAt = &now
	return nil
}

// Complete moves running -> completed with the run's final output.
func (e *Execution) Complete(output map[string]any) error {
	if err := e.transition(schema.ExecutionStatusCompleted); err != nil {
		return err
	}
	e.Output = output
	e.stampCompleted()
	return nil
}

// Fail moves running -> failed with a human-readable message and code.
func (e *Execution) Fail(message, code string) error {
	if err := e.transition(schema.ExecutionStatusFailed); err != nil {
		return err
	}
	if code == "" {
		code = schema.ErrCodeExecution
	}
	e.ErrorMessage = message
	e.ErrorCode = code
	e.stampCompleted()
	return nil
}

// Timeout moves running -> timeout. Distinct from Fail so callers can
// tell an overrun from a broken node.
func (e *Execution) Timeout() error {
	if err := e.transition(schema.ExecutionStatusTimeout); err != nil {
		return err
	}
	e.ErrorMessage = "execution exceeded its timeout"
	e.ErrorCode = schema.ErrCodeTimeout
	e.stampCompleted()
	return nil
}

// Cancel moves running -> cancelled in response to a cooperative
// cancellation observed at a node boundary.
func (e *Execution) Cancel() error {
	if err := e.transition(schema.ExecutionStatusCancelled); err != nil {
		return err
	}
	e.ErrorMessage = "execution cancelled"
	e.ErrorCode = schema.ErrCodeCancelled
	e.stampCompleted()
	return nil
}

func (e *Execution) stampCompleted() {
	now := time.Now().UTC()
	e.CompletedAt = &now
}

// BeginStep appends a running step record and returns its index for
// the matching FinishStep/FailStep call.
func (e *Execution) BeginStep(nodeID string, kind schema.NodeKind, input map[string]any) int {
	e.Steps = append(e.Steps, StepRecord{
		NodeID:    nodeID,
		NodeKind:  kind,
		Status:    schema.StepStatusRunning,
		Input:     input,
		StartedAt: time.Now().UTC(),
	})
	e.UpdatedAt = time.Now().UTC()
	return len(e.Steps) - 1
}

// FinishStep marks a step completed with its output and duration.
func (e *Execution) FinishStep(idx int, output map[string]any, durationMs int64) {
	if idx < 0 || idx >= len(e.Steps) {
		return
	}
	step := &e.Steps[idx]
	step.Status = schema.StepStatusCompleted
	step.Output = output
	step.DurationMs = normalizeDuration(step, durationMs)
	now := time.Now().UTC()
	step.CompletedAt = &now
	e.UpdatedAt = now
}

// FailStep marks a step failed with its error and duration.
func (e *Execution) FailStep(idx int, message, code string, durationMs int64) {
	if idx < 0 || idx >= len(e.Steps) {
		return
	}
	step := &e.Steps[idx]
	step.Status = schema.StepStatusFailed
	step.ErrorMessage = message
	step.ErrorCode = code
	step.DurationMs = normalizeDuration(step, durationMs)
	now := time.Now().UTC()
	step.CompletedAt = &now
	e.UpdatedAt = now
}

// normalizeDuration prefers the handler-reported duration and falls
// back to wall time measured from the step's own start.
func normalizeDuration(step *StepRecord, reported int64) int64 {
	if reported > 0 {
		return reported
	}
	return time.Since(step.StartedAt).Milliseconds()
}

// AttachContextSnapshot stores the run context's opaque snapshot.
func (e *Execution) AttachContextSnapshot(snapshot json.RawMessage) {
	e.ContextSnapshot = snapshot
}

// FailedNodeID returns the node id of the most recent failed step, or
// "" when no step failed.
func (e *Execution) FailedNodeID() string {
	for i := len(e.Steps) - 1; i >= 0; i-- {
		if e.Steps[i].Status == schema.StepStatusFailed {
			return e.Steps[i].NodeID
		}
	}
	return ""
}

// DurationMs returns the run's wall time, 0 until started.
func (e *Execution) DurationMs() int64 {
	if e.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	return end.Sub(*e.StartedAt).Milliseconds()
}

// NodesVisited returns how many step records the run accumulated.
func (e *Execution) NodesVisited() int { return len(e.Steps) }
