package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/internal/workflow"
	"github.com/weftlabs/weft/pkg/schema"
)

// DatabaseQuerier is the port to the host's data plane. Implementations
// wrap a *sql.DB or equivalent and return rows as generic maps.
type DatabaseQuerier interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// DatabaseCall runs a read-only query. Statements that are not SELECT or
// WITH are rejected before they reach the querier: workflow nodes read the
// data plane, they do not mutate it. Positional arguments come from the
// input's "args" array.
type DatabaseCall struct {
	querier  DatabaseQuerier
	resolver *expressions.Resolver
}

// NewDatabaseCall creates the database_call node handler.
func NewDatabaseCall(querier DatabaseQuerier, resolver *expressions.Resolver) *DatabaseCall {
	if resolver == nil {
		resolver = expressions.NewResolver()
	}
	return &DatabaseCall{querier: querier, resolver: resolver}
}

func (h *DatabaseCall) Kind() schema.NodeKind { return schema.NodeKindDatabaseCall }

func (h *DatabaseCall) Validate(node workflow.Node) []string {
	query := node.Config.Query
	if query == "" {
		return []string{fmt.Sprintf("database_call node %q: missing required config 'query'", node.ID)}
	}
	if !isReadOnlyQuery(query) {
		return []string{fmt.Sprintf("database_call node %q: only SELECT and WITH statements are allowed", node.ID)}
	}
	return nil
}

func (h *DatabaseCall) Execute(ctx context.Context, node workflow.Node, run *execution.Context, input map[string]any) (*Result, error) {
	if h.querier == nil {
		return Failf(schema.ErrCodeExecution, "database_call node %q: no querier configured", node.ID), nil
	}

	query := h.resolver.Resolve(node.Config.Query, runScope(run))
	if query == "" {
		return Failf(schema.ErrCodeValidation, "database_call node %q: missing required config 'query'", node.ID), nil
	}
	if !isReadOnlyQuery(query) {
		return Failf(schema.ErrCodeValidation,
			"database_call node %q: only SELECT and WITH statements are allowed", node.ID), nil
	}

	var args []any
	if raw, ok := input["args"].([]any); ok {
		args = raw
	}

	rows, err := h.querier.Query(ctx, query, args...)
	if err != nil {
		return Failf(schema.ErrCodeStore, "database_call node %q: query failed: %v", node.ID, err), nil
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return OK(map[string]any{
		"rows":  rows,
		"count": len(rows),
	}), nil
}

// isReadOnlyQuery accepts SELECT and WITH statements only. The check is
// syntactic on the first keyword; the querier is expected to enforce its
// own guarantees too.
func isReadOnlyQuery(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}
