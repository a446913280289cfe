package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// maxDelay caps a single delay node so a typo cannot park a run for hours.
const maxDelay = 5 * time.Minute

// Delay pauses the walk for the configured number of milliseconds. The wait
// is cancellable: if the run's context ends first, the node fails with the
// context error and the executor applies its cancellation rules.
type Delay struct{}

// NewDelay creates the delay node handler.
func NewDelay() *Delay {
	return &Delay{}
}

func (h *Delay) Kind() schema.NodeKind { return schema.NodeKindDelay }

func (h *Delay) Validate(node workflow.Node) []string {
	if node.Config.DelayMs < 0 {
		return []string{fmt.Sprintf("delay node %q: delay_ms must not be negative", node.ID)}
	}
	return nil
}

func (h *Delay) Execute(ctx context.Context, node workflow.Node, _ *execution.Context, _ map[string]any) (*Result, error) {
	d := time.Duration(node.Config.DelayMs) * time.Millisecond
	if d > maxDelay {
		d = maxDelay
	}
	if d <= 0 {
		return OK(map[string]any{"delayed_ms": int64(0)}), nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	start := time.Now()
	select {
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "delay interrupted").WithCause(ctx.Err()).WithNode(node.ID)
	case <-timer.C:
	}

	return OK(map[string]any{"delayed_ms": time.Since(start).Milliseconds()}), nil
}
