package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/weft.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB. The database_call handler's
// default querier reads through it.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, snap workflow.Snapshot) error {
	graph, err := json.Marshal(snap.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, owner_id, name, description, version, is_public, graph, created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id=excluded.owner_id, name=excluded.name, description=excluded.description,
		   version=excluded.version, is_public=excluded.is_public, graph=excluded.graph,
		   updated_at=excluded.updated_at, deleted_at=excluded.deleted_at`,
		snap.ID, snap.OwnerID, snap.Name, nullStr(snap.Description), snap.Version, snap.IsPublic,
		string(graph), timeOrNow(snap.CreatedAt), timeOrNow(snap.UpdatedAt), nullTime(snap.DeletedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*workflow.Snapshot, error) {
	snap := &workflow.Snapshot{}
	var (
		description sql.NullString
		graphJSON   string
		deletedAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, version, is_public, graph, created_at, updated_at, deleted_at
		 FROM workflows WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&snap.ID, &snap.OwnerID, &snap.Name, &description, &snap.Version, &snap.IsPublic,
		&graphJSON, &snap.CreatedAt, &snap.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	snap.Description = description.String
	if err := json.Unmarshal([]byte(graphJSON), &snap.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	if deletedAt.Valid {
		snap.DeletedAt = &deletedAt.Time
	}
	return snap, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*workflow.Snapshot, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, owner_id, name, description, version, is_public, graph, created_at, updated_at, deleted_at FROM workflows`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*workflow.Snapshot
	for rows.Next() {
		snap := &workflow.Snapshot{}
		var (
			description sql.NullString
			graphJSON   string
			deletedAt   sql.NullTime
		)
		if err := rows.Scan(&snap.ID, &snap.OwnerID, &snap.Name, &description, &snap.Version, &snap.IsPublic,
			&graphJSON, &snap.CreatedAt, &snap.UpdatedAt, &deletedAt); err != nil {
			return nil, err
		}
		snap.Description = description.String
		if err := json.Unmarshal([]byte(graphJSON), &snap.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
		if deletedAt.Valid {
			snap.DeletedAt = &deletedAt.Time
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Executions ---

func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *execution.Execution) error {
	input, err := nullMap(exec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := nullMap(exec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	steps, err := nullSteps(exec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, user_id, status, input, output, context_snapshot, error_message, error_code, steps, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, context_snapshot=excluded.context_snapshot,
		   error_message=excluded.error_message, error_code=excluded.error_code, steps=excluded.steps,
		   started_at=excluded.started_at, completed_at=excluded.completed_at, updated_at=excluded.updated_at`,
		exec.ID, exec.WorkflowID, exec.UserID, string(exec.Status),
		input, output, nullRaw(exec.ContextSnapshot),
		nullStr(exec.ErrorMessage), nullStr(exec.ErrorCode), steps,
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
		timeOrNow(exec.CreatedAt), timeOrNow(exec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	exec := &execution.Execution{}
	var (
		status                             string
		input, output, snapshot            sql.NullString
		errMessage, errCode, stepsJSON     sql.NullString
		startedAt, completedAt             sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, user_id, status, input, output, context_snapshot, error_message, error_code, steps, started_at, completed_at, created_at, updated_at
		 FROM executions WHERE id = ?`, id,
	).Scan(&exec.ID, &exec.WorkflowID, &exec.UserID, &status, &input, &output, &snapshot,
		&errMessage, &errCode, &stepsJSON, &startedAt, &completedAt, &exec.CreatedAt, &exec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.Input = mapOrNil(input)
	exec.Output = mapOrNil(output)
	exec.ContextSnapshot = rawOrNil(snapshot)
	exec.ErrorMessage = errMessage.String
	exec.ErrorCode = errCode.String
	exec.Steps = stepsOrNil(stepsJSON)
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*execution.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, user_id, status, input, output, context_snapshot, error_message, error_code, steps, started_at, completed_at, created_at, updated_at FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*execution.Execution
	for rows.Next() {
		exec := &execution.Execution{}
		var (
			status                         string
			input, output, snapshot        sql.NullString
			errMessage, errCode, stepsJSON sql.NullString
			startedAt, completedAt         sql.NullTime
		)
		if err := rows.Scan(&exec.ID, &exec.WorkflowID, &exec.UserID, &status, &input, &output, &snapshot,
			&errMessage, &errCode, &stepsJSON, &startedAt, &completedAt, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
			return nil, err
		}
		exec.Status = schema.ExecutionStatus(status)
		exec.Input = mapOrNil(input)
		exec.Output = mapOrNil(output)
		exec.ContextSnapshot = rawOrNil(snapshot)
		exec.ErrorMessage = errMessage.String
		exec.ErrorCode = errCode.String
		exec.Steps = stepsOrNil(stepsJSON)
		if startedAt.Valid {
			exec.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// --- Audit log ---

// AppendAudit assigns the next per-workflow sequence inside a
// transaction so concurrent appends cannot interleave.
func (s *LibSQLStore) AppendAudit(ctx context.Context, event *AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_audit WHERE workflow_id = ?`, event.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	details, err := nullMap(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_audit (workflow_id, event_type, details, actor_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.WorkflowID, event.Type, details, nullStr(event.ActorID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

// AuditHistory returns audit events with sequence > since, ordered by
// sequence ASC.
func (s *LibSQLStore) AuditHistory(ctx context.Context, workflowID string, since int64) ([]*AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, event_type, details, actor_id, timestamp, sequence
		 FROM workflow_audit WHERE workflow_id = ? AND sequence > ? ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		e := &AuditEvent{}
		var details, actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Type, &details, &actorID, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Details = mapOrNil(details)
		e.ActorID = actorID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.WeftError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func nullMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullSteps(steps []execution.StepRecord) (any, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func mapOrNil(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(ns.String), &m)
	return m
}

func stepsOrNil(ns sql.NullString) []execution.StepRecord {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var steps []execution.StepRecord
	_ = json.Unmarshal([]byte(ns.String), &steps)
	return steps
}
