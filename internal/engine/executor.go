// Package engine walks workflow graphs. The executor runs exactly one
// workflow execution at a time per call, in buffered or streaming mode;
// concurrent runs of the same workflow are independent because the graph
// is read-only for the duration of a run and all mutable state lives in
// the run's own context and aggregate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/handlers"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/streaming"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

const (
	// DefaultMaxIterations bounds the number of node executions in one
	// run. Hitting it is a fatal failure, distinct from timeout.
	DefaultMaxIterations = 100

	// DefaultRunTimeout applies when the caller passes no timeout.
	DefaultRunTimeout = 5 * time.Minute
)

// Options tunes the executor. Zero values fall back to the defaults.
type Options struct {
	MaxIterations int
	RunTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	return o
}

// Deps carries the executor's collaborators. Registry and Conditions are
// required; Executions, Hub, and Metrics are optional and skipped when nil.
type Deps struct {
	Registry   *handlers.Registry
	Conditions *expressions.ConditionEvaluator
	Resolver   *expressions.Resolver
	Executions store.ExecutionRepository
	Hub        streaming.EventHub
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Executor runs workflow graphs with a single cursor: one active node at
// a time, strictly sequential within a run. Parallel and merge kinds are
// walked through like any other node; the engine never fans out sibling
// branches concurrently.
type Executor struct {
	registry   *handlers.Registry
	conditions *expressions.ConditionEvaluator
	resolver   *expressions.Resolver
	executions store.ExecutionRepository
	hub        streaming.EventHub
	metrics    *metrics.Collector
	logger     *slog.Logger
	opts       Options
}

// New creates an executor.
func New(deps Deps, opts Options) (*Executor, error) {
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires a handler registry")
	}
	if deps.Conditions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires a condition evaluator")
	}
	if deps.Resolver == nil {
		deps.Resolver = expressions.NewResolver()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Executor{
		registry:   deps.Registry,
		conditions: deps.Conditions,
		resolver:   deps.Resolver,
		executions: deps.Executions,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		opts:       opts.withDefaults(),
	}, nil
}

// RunParams describes one execution request.
type RunParams struct {
	Workflow *workflow.Workflow
	Input    map[string]any
	UserID   string

	// RunID is optional; empty means a fresh id is generated.
	RunID string

	// Timeout caps the whole run. Zero means the executor default.
	Timeout time.Duration

	// ParentRunID and TraceID are carried on the run context for
	// correlation; the engine itself never reads them.
	ParentRunID string
	TraceID     string
}

// Execute runs the workflow to a terminal state and returns the finished
// aggregate. The returned error covers only requests that cannot start a
// run at all (nil or empty workflow); every failure after the run starts
// lands on the aggregate instead.
func (e *Executor) Execute(ctx context.Context, p RunParams) (*execution.Execution, error) {
	exec, runCtx, err := e.prepare(p)
	if err != nil {
		return nil, err
	}
	e.run(ctx, p, exec, runCtx, e.hubEmitter(ctx))
	return exec, nil
}

// ExecuteStream runs the workflow and returns its event stream. The
// channel delivers, in order, execution_started, a node_started and
// node_completed pair per visited node, and one execution_completed or
// execution_failed; it is closed when the run reaches a terminal state.
// A slow consumer delays the next emission without affecting other runs;
// cancelling ctx both releases the stream and cancels the run.
func (e *Executor) ExecuteStream(ctx context.Context, p RunParams) (<-chan schema.StreamEvent, error) {
	exec, runCtx, err := e.prepare(p)
	if err != nil {
		return nil, err
	}

	events := make(chan schema.StreamEvent)
	hubEmit := e.hubEmitter(ctx)
	emit := func(ev schema.StreamEvent) {
		hubEmit(ev)
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)
		e.run(ctx, p, exec, runCtx, emit)
	}()
	return events, nil
}

// prepare builds the aggregate and run context for a request.
func (e *Executor) prepare(p RunParams) (*execution.Execution, *execution.Context, error) {
	if p.Workflow == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if p.Workflow.EntryNode() == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes to execute")
	}

	exec := execution.New(p.RunID, p.Workflow.ID, p.UserID, p.Input)
	runCtx := execution.NewContext(exec.ID, p.Workflow.ID, p.UserID, p.Input)
	runCtx.ParentRunID = p.ParentRunID
	runCtx.TraceID = p.TraceID
	return exec, runCtx, nil
}

// run walks the graph to a terminal state, emitting stream events along
// the way. All terminal handling, persistence included, happens here.
func (e *Executor) run(ctx context.Context, p RunParams, exec *execution.Execution, runCtx *execution.Context, emit func(schema.StreamEvent)) {
	wf := p.Workflow
	ctx = logging.WithRun(ctx, wf.ID, exec.ID)
	if p.TraceID != "" {
		ctx = logging.WithTraceID(ctx, p.TraceID)
	}
	logger := logging.LogWith(ctx, e.logger)

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = e.opts.RunTimeout
	}
	// The caller's ctx stays visible so cancellation and the run's own
	// deadline report distinct terminal states.
	callerCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := exec.Start(); err != nil {
		logger.Error("run could not start", slog.String("error", err.Error()))
		return
	}
	e.metrics.RunStarted()
	logger.Info("run started", slog.String("entry", wf.EntryPointID), slog.Int("nodes", wf.NodeCount()))
	emit(schema.StreamEvent{
		Type:       schema.EventExecutionStarted,
		RunID:      exec.ID,
		WorkflowID: wf.ID,
		Timestamp:  time.Now().UTC(),
	})

	current := wf.EntryNode()
	iterations := 0

	for current != nil {
		// Cooperative checks happen here, at node boundaries only. A
		// handler that overruns is noticed on the next iteration.
		if done := e.checkInterrupt(ctx, callerCtx, exec); done {
			break
		}

		iterations++
		if iterations > e.opts.MaxIterations {
			msg := fmt.Sprintf("run exceeded the iteration ceiling of %d node executions", e.opts.MaxIterations)
			logger.Error(msg, slog.String("node_id", current.ID))
			_ = exec.Fail(msg, schema.ErrCodeIterationLimit)
			break
		}

		runCtx.CurrentNodeID = current.ID
		nodeCtx := logging.WithNodeID(ctx, current.ID)
		nodeInput := e.nodeInput(current, runCtx)

		emit(schema.StreamEvent{
			Type:       schema.EventNodeStarted,
			RunID:      exec.ID,
			WorkflowID: wf.ID,
			NodeID:     current.ID,
			NodeKind:   current.Kind,
			Timestamp:  time.Now().UTC(),
		})

		stepIdx := exec.BeginStep(current.ID, current.Kind, nodeInput)
		result := e.executeNode(nodeCtx, *current, runCtx, nodeInput)
		e.metrics.NodeExecuted(string(current.Kind), stepStatus(result), time.Duration(result.durationMs)*time.Millisecond)

		if !result.success {
			exec.FailStep(stepIdx, result.errorMessage, result.errorCode, result.durationMs)
			_ = exec.Fail(result.errorMessage, result.errorCode)
			logging.LogWith(nodeCtx, e.logger).Error("node failed",
				slog.String("code", result.errorCode),
				slog.String("error", result.errorMessage))
			emit(nodeCompletedEvent(exec.ID, wf.ID, current.ID, result))
			break
		}

		exec.FinishStep(stepIdx, result.output, result.durationMs)
		runCtx.RecordOutput(current.ID, result.output)
		emit(nodeCompletedEvent(exec.ID, wf.ID, current.ID, result))

		if current.Kind.IsExit() {
			_ = exec.Complete(result.output)
			break
		}

		next := e.nextNode(nodeCtx, wf, current, result, runCtx)
		if next == nil {
			_ = exec.Complete(result.output)
			break
		}
		current = next
	}

	// A run that drained the graph without a single node is impossible
	// (prepare guarantees an entry node), but an interrupt observed
	// before the first iteration leaves the aggregate running.
	if !exec.Status.Terminal() {
		if done := e.checkInterrupt(ctx, callerCtx, exec); !done {
			_ = exec.Complete(runCtx.Input)
		}
	}

	e.finalize(callerCtx, exec, runCtx, emit, logger)
}

// checkInterrupt inspects the run's contexts and applies the matching
// terminal transition: the caller's cancellation wins over the run's own
// deadline, so an externally-stopped run is reported cancelled even when
// both fired.
func (e *Executor) checkInterrupt(ctx, callerCtx context.Context, exec *execution.Execution) bool {
	if callerCtx.Err() != nil {
		_ = exec.Cancel()
		return true
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		_ = exec.Timeout()
		return true
	}
	return false
}

// finalize snapshots the context, emits the terminal event, records
// metrics, and persists the aggregate. Persistence is best-effort: a
// store failure is logged and never overturns the decided status.
func (e *Executor) finalize(ctx context.Context, exec *execution.Execution, runCtx *execution.Context, emit func(schema.StreamEvent), logger *slog.Logger) {
	exec.AttachContextSnapshot(runCtx.Snapshot())

	switch exec.Status {
	case schema.ExecutionStatusCompleted:
		emit(schema.StreamEvent{
			Type:       schema.EventExecutionCompleted,
			RunID:      exec.ID,
			WorkflowID: exec.WorkflowID,
			Status:     exec.Status,
			Output:     exec.Output,
			DurationMs: exec.DurationMs(),
			Timestamp:  time.Now().UTC(),
		})
	default:
		emit(schema.StreamEvent{
			Type:       schema.EventExecutionFailed,
			RunID:      exec.ID,
			WorkflowID: exec.WorkflowID,
			Status:     exec.Status,
			Error:      exec.ErrorMessage,
			DurationMs: exec.DurationMs(),
			Timestamp:  time.Now().UTC(),
		})
	}

	e.metrics.RunFinished(string(exec.Status), time.Duration(exec.DurationMs())*time.Millisecond)
	logger.Info("run finished",
		slog.String("status", string(exec.Status)),
		slog.Int("steps", exec.NodesVisited()),
		slog.Int64("duration_ms", exec.DurationMs()))

	if e.executions == nil {
		return
	}
	// The run's contexts may already be cancelled or expired; saving
	// the terminal record must not be.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.executions.SaveExecution(saveCtx, exec); err != nil {
		logger.Error("failed to persist finished run", slog.String("error", err.Error()))
	}
}

// nodeResult is the engine's normalized view of a node's outcome. Every
// handler return shape, including panics, collapses into this.
type nodeResult struct {
	success      bool
	output       map[string]any
	errorMessage string
	errorCode    string
	nextNodeID   string
	durationMs   int64
}

// executeNode resolves and invokes the node's handler. Kinds without a
// registered handler pass their input through as output. Handler panics
// and raw errors are converted to failed results; nothing escapes.
func (e *Executor) executeNode(ctx context.Context, node workflow.Node, runCtx *execution.Context, input map[string]any) (res nodeResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.LogWith(ctx, e.logger).Error("handler panicked",
				slog.String("kind", string(node.Kind)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res = nodeResult{
				success:      false,
				errorMessage: fmt.Sprintf("handler for %s panicked: %v", node.Kind, r),
				errorCode:    schema.ErrCodeExecution,
				durationMs:   time.Since(started).Milliseconds(),
			}
		}
	}()

	handler, ok := e.registry.Get(node.Kind)
	if !ok {
		logging.LogWith(ctx, e.logger).Warn("no handler registered, passing input through",
			slog.String("kind", string(node.Kind)))
		return nodeResult{success: true, output: passThroughOutput(input), durationMs: time.Since(started).Milliseconds()}
	}

	if msgs := handler.Validate(node); len(msgs) > 0 {
		return nodeResult{
			success:      false,
			errorMessage: msgs[0],
			errorCode:    schema.ErrCodeValidation,
			durationMs:   time.Since(started).Milliseconds(),
		}
	}

	if hook, ok := handler.(handlers.LifecycleHooks); ok {
		hook.PreExecute(ctx, node, runCtx)
		defer func() { hook.PostExecute(ctx, node, runCtx, res.success) }()
	}

	out, err := handler.Execute(ctx, node, runCtx, input)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		code := schema.ErrCodeExecution
		var werr *schema.WeftError
		if errors.As(err, &werr) && werr.Code != "" {
			code = werr.Code
		}
		return nodeResult{success: false, errorMessage: err.Error(), errorCode: code, durationMs: elapsed}
	}
	if out == nil {
		return nodeResult{success: true, output: map[string]any{}, durationMs: elapsed}
	}
	if !out.Success {
		code := out.ErrorCode
		if code == "" {
			code = schema.ErrCodeExecution
		}
		msg := out.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("%s node %s failed", node.Kind, node.ID)
		}
		return nodeResult{success: false, output: out.Output, errorMessage: msg, errorCode: code, durationMs: elapsed}
	}
	return nodeResult{
		success:    true,
		output:     out.Output,
		nextNodeID: out.NextNodeID,
		durationMs: elapsed,
	}
}

// nodeInput computes a node's input payload: an explicit input_mapping
// resolved against the run scope when configured, otherwise the run
// input passed through.
func (e *Executor) nodeInput(node *workflow.Node, runCtx *execution.Context) map[string]any {
	if len(node.Config.InputMapping) == 0 {
		return runCtx.Input
	}
	scope := expressions.NewScope(runCtx.Input, runCtx.Vars, runCtx.NodeOutputs)
	return e.resolver.ResolveMap(node.Config.InputMapping, scope)
}

// passThroughOutput copies the input one level deep so a downstream
// mutation of the recorded output cannot alias the run input.
func passThroughOutput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

func nodeCompletedEvent(runID, workflowID, nodeID string, res nodeResult) schema.StreamEvent {
	success := res.success
	return schema.StreamEvent{
		Type:       schema.EventNodeCompleted,
		RunID:      runID,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Success:    &success,
		Output:     res.output,
		Error:      res.errorMessage,
		DurationMs: res.durationMs,
		Timestamp:  time.Now().UTC(),
	}
}

func stepStatus(res nodeResult) string {
	if res.success {
		return string(schema.StepStatusCompleted)
	}
	return string(schema.StepStatusFailed)
}

// hubEmitter mirrors events into the hub when one is configured.
func (e *Executor) hubEmitter(ctx context.Context) func(schema.StreamEvent) {
	if e.hub == nil {
		return func(schema.StreamEvent) {}
	}
	return func(ev schema.StreamEvent) {
		if err := e.hub.Publish(ctx, ev); err != nil {
			e.logger.Debug("hub publish skipped", slog.String("error", err.Error()))
		}
	}
}
