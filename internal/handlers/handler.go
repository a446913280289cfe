// Package handlers defines the node handler contract and the built-in
// handlers for every node kind the engine executes. Handlers are registered
// explicitly in a Registry; the executor resolves each visited node's kind
// against it and falls back to pass-through behavior for kinds without a
// registration.
package handlers

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// NodeHandler executes one kind of workflow node.
type NodeHandler interface {
	// Kind reports the node kind this handler serves.
	Kind() schema.NodeKind

	// Validate statically checks a node's configuration. Returned messages
	// are surfaced as graph validation errors; an empty slice means the
	// configuration is acceptable.
	Validate(node workflow.Node) []string

	// Execute runs the node. The input map is the node's resolved input
	// payload; run carries the live execution state for scope building.
	// A non-nil error marks the node failed, as does a Result with
	// Success=false; the latter lets handlers report domain failures with
	// a code without losing their output.
	Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error)
}

// LifecycleHooks is an optional interface handlers may implement for
// cross-cutting instrumentation. The executor calls PreExecute before a
// node runs and PostExecute after its outcome is decided; neither can
// veto or alter the run.
type LifecycleHooks interface {
	PreExecute(ctx context.Context, node workflow.Node, run *execution.Context)
	PostExecute(ctx context.Context, node workflow.Node, run *execution.Context, success bool)
}

// Result is the outcome of executing a single node.
type Result struct {
	Success      bool
	Output       map[string]any
	ErrorMessage string
	ErrorCode    string

	// NextNodeID optionally overrides edge-based routing. The executor
	// follows it verbatim when the named node exists.
	NextNodeID string

	// Metadata carries handler diagnostics that are logged but not merged
	// into node output.
	Metadata map[string]any
}

// OK builds a successful result. A nil output is normalized to an empty map
// so downstream scope lookups never see nil.
func OK(output map[string]any) *Result {
	if output == nil {
		output = map[string]any{}
	}
	return &Result{Success: true, Output: output}
}

// Fail builds a failed result with an error code and message.
func Fail(code, message string) *Result {
	if code == "" {
		code = schema.ErrCodeExecution
	}
	return &Result{Success: false, Output: map[string]any{}, ErrorCode: code, ErrorMessage: message}
}

// Failf builds a failed result with a formatted message.
func Failf(code, format string, args ...any) *Result {
	return Fail(code, fmt.Sprintf(format, args...))
}
