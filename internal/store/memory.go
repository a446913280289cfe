package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
)

// MemoryStore is an in-process Store for tests and ephemeral runs.
// Records are kept as JSON blobs so reads return fresh copies with the
// same serialization semantics as the libSQL store.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string][]byte
	executions  map[string][]byte
	audits      map[string][]AuditEvent
	nextAuditID int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string][]byte),
		executions: make(map[string][]byte),
		audits:     make(map[string][]AuditEvent),
	}
}

// Migrate is a no-op; the memory store has no schema.
func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Vacuum is a no-op.
func (m *MemoryStore) Vacuum(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// --- Workflows ---

func (m *MemoryStore) SaveWorkflow(ctx context.Context, snap workflow.Snapshot) error {
	snap.CreatedAt = timeOrNow(snap.CreatedAt)
	snap.UpdatedAt = timeOrNow(snap.UpdatedAt)
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	m.mu.Lock()
	m.workflows[snap.ID] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetWorkflow(ctx context.Context, id string) (*workflow.Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.workflows[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	snap := &workflow.Snapshot{}
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	if snap.DeletedAt != nil {
		return nil, storeNotFound("workflow", id)
	}
	return snap, nil
}

func (m *MemoryStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*workflow.Snapshot, error) {
	m.mu.RLock()
	raws := make([][]byte, 0, len(m.workflows))
	for _, raw := range m.workflows {
		raws = append(raws, raw)
	}
	m.mu.RUnlock()

	var snaps []*workflow.Snapshot
	for _, raw := range raws {
		snap := &workflow.Snapshot{}
		if err := json.Unmarshal(raw, snap); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		if snap.DeletedAt != nil {
			continue
		}
		if filter.OwnerID != "" && snap.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Since != nil && snap.CreatedAt.Before(*filter.Since) {
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return paginate(snaps, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.workflows[id]
	if !ok {
		return storeNotFound("workflow", id)
	}
	snap := workflow.Snapshot{}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal workflow: %w", err)
	}
	if snap.DeletedAt != nil {
		return storeNotFound("workflow", id)
	}
	now := time.Now().UTC()
	snap.DeletedAt = &now
	snap.UpdatedAt = now
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	m.workflows[id] = b
	return nil
}

// --- Executions ---

func (m *MemoryStore) SaveExecution(ctx context.Context, exec *execution.Execution) error {
	cp := *exec
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	b, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	m.mu.Lock()
	m.executions[exec.ID] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	m.mu.RLock()
	raw, ok := m.executions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("execution", id)
	}
	exec := &execution.Execution{}
	if err := json.Unmarshal(raw, exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return exec, nil
}

func (m *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*execution.Execution, error) {
	m.mu.RLock()
	raws := make([][]byte, 0, len(m.executions))
	for _, raw := range m.executions {
		raws = append(raws, raw)
	}
	m.mu.RUnlock()

	var execs []*execution.Execution
	for _, raw := range raws {
		exec := &execution.Execution{}
		if err := json.Unmarshal(raw, exec); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.UserID != "" && exec.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && exec.CreatedAt.Before(*filter.Since) {
			continue
		}
		execs = append(execs, exec)
	}

	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].CreatedAt.After(execs[j].CreatedAt)
	})
	return paginate(execs, filter.Limit, filter.Offset), nil
}

// --- Audit log ---

func (m *MemoryStore) AppendAudit(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAuditID++
	event.ID = m.nextAuditID
	event.Sequence = int64(len(m.audits[event.WorkflowID])) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	stored := *event
	stored.Details = maps.Clone(event.Details)
	m.audits[event.WorkflowID] = append(m.audits[event.WorkflowID], stored)
	return nil
}

func (m *MemoryStore) AuditHistory(ctx context.Context, workflowID string, since int64) ([]*AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*AuditEvent
	for _, e := range m.audits[workflowID] {
		if e.Sequence <= since {
			continue
		}
		cp := e
		cp.Details = maps.Clone(e.Details)
		events = append(events, &cp)
	}
	return events, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
