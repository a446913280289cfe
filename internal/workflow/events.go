package workflow

import "time"

// EventType names a domain event raised by the workflow aggregate.
type EventType string

const (
	EventWorkflowCreated   EventType = "workflow_created"
	EventWorkflowUpdated   EventType = "workflow_updated"
	EventWorkflowValidated EventType = "workflow_validated"
)

// Event records one aggregate-level change. Events accumulate on the
// aggregate and are drained by the caller via PullEvents; they are not
// persisted by the aggregate itself.
type Event struct {
	Type       EventType      `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

func (w *Workflow) record(eventType EventType, details map[string]any) {
	w.events = append(w.events, Event{
		Type:       eventType,
		WorkflowID: w.ID,
		OccurredAt: time.Now().UTC(),
		Details:    details,
	})
}

// PullEvents returns the accumulated domain events and clears them.
func (w *Workflow) PullEvents() []Event {
	events := w.events
	w.events = nil
	return events
}
