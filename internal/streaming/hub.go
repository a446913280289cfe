// Package streaming fans run events out to subscribers. The engine
// publishes one event per lifecycle transition and node visit; MCP
// streaming surfaces and tests subscribe with a filter.
package streaming

import (
	"context"

	"github.com/weftlabs/weft/pkg/schema"
)

// EventFilter selects which events a subscriber receives. Zero-value
// fields match everything.
type EventFilter struct {
	// RunID limits events to a single run.
	RunID string
	// WorkflowID limits events to runs of one workflow.
	WorkflowID string
	// EventTypes limits events to the listed types.
	EventTypes []string
}

// EventHub distributes run events to subscribers.
type EventHub interface {
	// Publish delivers an event to all matching subscribers. Delivery is
	// best-effort: subscribers that cannot keep up miss events rather
	// than block the publisher.
	Publish(ctx context.Context, event schema.StreamEvent) error

	// Subscribe registers a consumer for events matching filter. The
	// returned cancel function releases the subscription; the channel is
	// closed after cancellation.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StreamEvent, func(), error)
}
