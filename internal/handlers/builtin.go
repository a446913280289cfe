package handlers

import "github.com/weftlabs/weft/internal/expressions"

// BuiltinDeps carries the collaborators the built-in handlers run on.
// Expression engines are required; the ports (Models, Tools, Database,
// Approvals) may be nil, in which case their handlers register but fail
// cleanly at execution time.
type BuiltinDeps struct {
	Conditions *expressions.ConditionEvaluator
	JQ         *expressions.JQEngine
	Logic      *expressions.LogicEngine
	Resolver   *expressions.Resolver

	HTTP      HTTPConfig
	Models    ModelCaller
	Tools     ToolExecutor
	Database  DatabaseQuerier
	Approvals ApprovalService
}

// RegisterBuiltins registers a handler for every node kind.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	all := make([]NodeHandler, 0, 20)

	all = append(all, ControlHandlers()...)

	all = append(all,
		NewCondition(deps.Conditions),
		NewLoop(deps.Conditions),
		NewDelay(),
		NewTransform(deps.JQ),
		NewFilter(deps.JQ),
		NewCode(deps.Logic),
		NewHTTPCall(deps.HTTP, deps.Resolver),
		NewAgentCall(deps.Models, deps.Resolver),
		NewModelCall(deps.Models, deps.Resolver),
		NewToolCall(deps.Tools),
		NewDatabaseCall(deps.Database, deps.Resolver),
		NewApproval(deps.Approvals, deps.Resolver),
	)

	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
