package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchemaSQL string

// schemaStep is one versioned step of the weft database schema. Steps are
// applied in order inside a transaction and recorded in schema_version so a
// store opened against an older database file catches up on first Migrate.
type schemaStep struct {
	version int
	name    string
	script  string
}

// schemaSteps lists every step in order. Append only; never edit a shipped
// step, since existing databases record its version as applied.
var schemaSteps = []schemaStep{
	{version: 1, name: "initial_schema", script: initialSchemaSQL},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, step := range schemaSteps {
		if step.version <= applied {
			continue
		}
		if err := applyStep(ctx, db, step); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(ctx context.Context, db *sql.DB, step schemaStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", step.version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for _, stmt := range sqlStatements(step.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", step.version, step.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, step.version, step.name); err != nil {
		return fmt.Errorf("record migration %d: %w", step.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", step.version, err)
	}
	return nil
}

// sqlStatements splits a migration script on semicolons, dropping fragments
// that contain nothing but SQL comments.
func sqlStatements(script string) []string {
	var out []string
	for _, raw := range strings.Split(script, ";") {
		frag := strings.TrimSpace(raw)
		if frag == "" || isCommentOnly(frag) {
			continue
		}
		out = append(out, frag)
	}
	return out
}

func isCommentOnly(frag string) bool {
	for _, line := range strings.Split(frag, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
