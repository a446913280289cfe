package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/weftlabs/weft/pkg/schema"
)

// LogicEngine evaluates expr-lang programs for code nodes: deterministic
// in-process logic with let bindings, array operations (filter, map, count,
// any, all, sum), string operations, nil coalescing (??), and optional
// chaining (?.). The environment map is injected as top-level variables,
// typically a scope Activation plus the node's resolved params.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type LogicEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewLogicEngine creates a new expr engine.
func NewLogicEngine() *LogicEngine {
	return &LogicEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate compiles (or retrieves from cache) an expression and runs it
// against the environment.
func (e *LogicEngine) Evaluate(ctx context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty code expression")
	}

	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"code evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out, nil
}

// Check compiles an expression without evaluating it, surfacing syntax
// errors for graph validation.
func (e *LogicEngine) Check(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty code expression")
	}
	_, err := e.getOrCompile(expression, map[string]any{})
	return err
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
// The env map is used to infer the environment type for compilation.
func (e *LogicEngine) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
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

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"code compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}
