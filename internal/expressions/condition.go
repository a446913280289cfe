package expressions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// ConditionEvaluator evaluates routing conditions on edges and condition
// nodes using Google's Common Expression Language. The environment is
// sandboxed: expressions can only see the three scope namespaces and the
// CEL standard library (comparisons, boolean operators, string functions,
// size, in, has). No I/O, no clock, no process state.
//
// Evaluation is total from the caller's point of view: an empty expression
// is true, and any compile error, runtime error, or non-boolean result is
// logged and reported as false. Routing never aborts a run because a
// condition was malformed.
//
// Thread-safe: compiled programs are cached and reused across goroutines.
type ConditionEvaluator struct {
	env    *cel.Env
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewConditionEvaluator creates the evaluator with its sandboxed
// environment. The environment exposes three top-level variables matching
// the template namespaces:
//   - input: map(string, dyn) — run input payload
//   - vars:  map(string, dyn) — run variables
//   - nodes: map(string, dyn) — completed node outputs keyed by node ID
//
// plus the helper predicates isEmpty, notEmpty, and length. String
// containment, prefix/suffix checks, and the string/int/double/bool casts
// come from the CEL standard library.
func NewConditionEvaluator(logger *slog.Logger) (*ConditionEvaluator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("input", mapType),
		cel.Variable("vars", mapType),
		cel.Variable("nodes", mapType),
		cel.Function("isEmpty",
			cel.Overload("isEmpty_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Bool(nativeLength(v.Value()) == 0)
				}))),
		cel.Function("notEmpty",
			cel.Overload("notEmpty_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Bool(nativeLength(v.Value()) > 0)
				}))),
		cel.Function("length",
			cel.Overload("length_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Int(nativeLength(v.Value()))
				}))),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &ConditionEvaluator{
		env:    env,
		logger: logger,
		cache:  make(map[string]cel.Program),
	}, nil
}

// Evaluate runs a condition expression against the scope and returns the
// boolean outcome. Empty or whitespace-only expressions are vacuously true.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, expression string, scope Scope) bool {
	if strings.TrimSpace(expression) == "" {
		return true
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		e.logger.WarnContext(ctx, "condition compile failed, treating as false",
			slog.String("expression", expression),
			slog.String("error", err.Error()))
		return false
	}

	out, _, err := prg.Eval(scope.Activation())
	if err != nil {
		e.logger.WarnContext(ctx, "condition evaluation failed, treating as false",
			slog.String("expression", expression),
			slog.String("error", err.Error()))
		return false
	}

	result, ok := out.Value().(bool)
	if !ok {
		e.logger.WarnContext(ctx, "condition returned non-boolean, treating as false",
			slog.String("expression", expression),
			slog.String("result_type", fmt.Sprintf("%T", out.Value())))
		return false
	}

	return result
}

// Check compiles an expression without evaluating it, surfacing syntax and
// type errors. Graph validation uses this to reject bad conditions before
// a run ever reaches them.
func (e *ConditionEvaluator) Check(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.getOrCompile(expression)
	return err
}

// nativeLength sizes a value for the helper predicates. Nil and unsized
// values have length zero.
func nativeLength(v any) int {
	switch tv := v.(type) {
	case nil:
		return 0
	case string:
		return len(tv)
	case map[string]any:
		return len(tv)
	case []any:
		return len(tv)
	case map[ref.Val]ref.Val:
		return len(tv)
	case []ref.Val:
		return len(tv)
	default:
		return 0
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *ConditionEvaluator) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expression, err)
	}

	e.cache[expression] = prg
	return prg, nil
}
