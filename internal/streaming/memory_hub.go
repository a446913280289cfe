package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/weftlabs/weft/pkg/schema"
)

// defaultChannelBuffer bounds each subscriber channel. A subscriber
// that falls more than this many events behind starts missing events.
const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan schema.StreamEvent
	filter EventFilter
}

// MemoryHub is an in-process EventHub. Publishing never blocks: events
// for a full subscriber channel are dropped.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewMemoryHub returns an empty in-process hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscriber)}
}

// Publish delivers event to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event schema.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is saturated; drop instead of stalling the run.
		}
	}
	return nil
}

// Subscribe registers a consumer. The cancel function is idempotent
// and closes the returned channel.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	sub := &subscriber{
		ch:     make(chan schema.StreamEvent, defaultChannelBuffer),
		filter: filter,
	}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// SubscriberCount reports active subscriptions. Intended for tests and
// introspection.
func (h *MemoryHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func matchFilter(filter EventFilter, event schema.StreamEvent) bool {
	if filter.RunID != "" && filter.RunID != event.RunID {
		return false
	}
	if filter.WorkflowID != "" && filter.WorkflowID != event.WorkflowID {
		return false
	}
	if len(filter.EventTypes) == 0 {
		return true
	}
	for _, t := range filter.EventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}
