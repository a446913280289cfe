// Package scheduler launches runs of schedule-kind workflows. It polls
// the workflow repository, computes due times from each schedule node's
// cron expression, and submits launches through a bounded pool so a
// burst of due workflows cannot flood the engine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/metrics"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// defaultScanInterval is how often the repository is polled for due
// workflows.
const defaultScanInterval = time.Minute

// Runner is the slice of the executor the scheduler needs. Satisfied by
// *engine.Executor and test mocks.
type Runner interface {
	Execute(ctx context.Context, p engine.RunParams) (*execution.Execution, error)
}

// Scheduler polls for schedule-kind workflows and runs the due ones.
type Scheduler struct {
	workflows store.WorkflowRepository
	runner    Runner
	pool      *engine.LaunchPool
	parser    cron.Parser
	metrics   *metrics.Collector
	logger    *slog.Logger
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stateMu  sync.Mutex
	nextRuns map[string]time.Time // workflow id -> next due time
	inflight map[string]struct{}  // workflow ids currently executing
}

// New creates a scheduler. Pool may be nil, in which case launches are
// bounded at a default of 10 concurrent runs.
func New(workflows store.WorkflowRepository, runner Runner, pool *engine.LaunchPool, collector *metrics.Collector, logger *slog.Logger) *Scheduler {
	if pool == nil {
		pool = engine.NewLaunchPool(10)
	}
	return &Scheduler{
		workflows: workflows,
		runner:    runner,
		pool:      pool,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		metrics:   collector,
		logger:    logger,
		interval:  defaultScanInterval,
		nextRuns:  make(map[string]time.Time),
		inflight:  make(map[string]struct{}),
	}
}

// Start launches the background scan loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the loop, waits for it, then drains the pool.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.pool.Close()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans once and launches every due workflow. Exported so hosts
// and tests can force a scan without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	snaps, err := s.workflows.ListWorkflows(ctx, store.WorkflowFilter{})
	if err != nil {
		s.logger.Error("scheduler scan failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, snap := range snaps {
		s.consider(ctx, snap, now)
	}
}

// consider launches one workflow if its schedule makes it due.
func (s *Scheduler) consider(ctx context.Context, snap *workflow.Snapshot, now time.Time) {
	if snap.DeletedAt != nil {
		return
	}

	wf, err := workflow.FromSnapshot(*snap)
	if err != nil {
		s.logger.Warn("skipping unloadable workflow",
			slog.String("workflow_id", snap.ID), slog.String("error", err.Error()))
		return
	}

	entry := wf.EntryNode()
	if entry == nil || entry.Kind != schema.NodeKindSchedule {
		return
	}
	spec := entry.Config.Cron
	if spec == "" {
		return
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		s.metrics.ScheduleLaunch("error")
		s.logger.Warn("invalid cron expression",
			slog.String("workflow_id", wf.ID), slog.String("cron", spec),
			slog.String("error", err.Error()))
		return
	}

	if !s.due(wf.ID, schedule, now) {
		return
	}
	if !s.tryAcquire(wf.ID) {
		s.metrics.ScheduleLaunch("skipped")
		return
	}

	err = s.pool.Submit(ctx, func(runCtx context.Context) {
		defer s.release(wf.ID)
		s.launch(runCtx, wf, now)
	})
	if err != nil {
		s.release(wf.ID)
		s.metrics.ScheduleLaunch("error")
		s.logger.Error("scheduled launch rejected",
			slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) launch(ctx context.Context, wf *workflow.Workflow, due time.Time) {
	s.logger.Info("launching scheduled run",
		slog.String("workflow_id", wf.ID), slog.String("workflow", wf.Name))

	exec, err := s.runner.Execute(ctx, engine.RunParams{
		Workflow: wf,
		UserID:   wf.OwnerID,
		Input:    map[string]any{"scheduled_at": due.Format(time.RFC3339)},
	})
	if err != nil {
		s.metrics.ScheduleLaunch("error")
		s.logger.Error("scheduled run failed to start",
			slog.String("workflow_id", wf.ID), slog.String("error", err.Error()))
		return
	}

	s.metrics.ScheduleLaunch("launched")
	s.logger.Info("scheduled run finished",
		slog.String("workflow_id", wf.ID),
		slog.String("run_id", exec.ID),
		slog.String("status", string(exec.Status)))
}

// due reports whether the workflow's next computed run time has passed,
// and advances it. The first sighting of a workflow only arms the
// schedule: runs start from the following due time, so a restart does
// not replay old slots.
func (s *Scheduler) due(workflowID string, schedule cron.Schedule, now time.Time) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	next, seen := s.nextRuns[workflowID]
	if !seen {
		s.nextRuns[workflowID] = schedule.Next(now)
		return false
	}
	if now.Before(next) {
		return false
	}
	s.nextRuns[workflowID] = schedule.Next(now)
	return true
}

// RunNow launches one workflow immediately, outside its cron schedule.
// The in-flight dedup still applies.
func (s *Scheduler) RunNow(ctx context.Context, workflowID string) error {
	snap, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	wf, err := workflow.FromSnapshot(*snap)
	if err != nil {
		return err
	}
	if !s.tryAcquire(wf.ID) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %s already has a scheduled run in flight", wf.ID)
	}
	err = s.pool.Submit(ctx, func(runCtx context.Context) {
		defer s.release(wf.ID)
		s.launch(runCtx, wf, time.Now().UTC())
	})
	if err != nil {
		s.release(wf.ID)
		return err
	}
	return nil
}

// NextRun returns the armed due time for a workflow, if any.
func (s *Scheduler) NextRun(workflowID string) (time.Time, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	next, ok := s.nextRuns[workflowID]
	return next, ok
}

func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if _, running := s.inflight[workflowID]; running {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) release(workflowID string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	delete(s.inflight, workflowID)
}
