package schema

// NodeKind identifies what a node does. The set is closed: the engine
// routes and validates by kind, and unknown kinds execute as pass-through.
type NodeKind string

const (
	NodeKindEntry        NodeKind = "entry"
	NodeKindExit         NodeKind = "exit"
	NodeKindAgentCall    NodeKind = "agent_call"
	NodeKindModelCall    NodeKind = "model_call"
	NodeKindCondition    NodeKind = "condition"
	NodeKindLoop         NodeKind = "loop"
	NodeKindParallel     NodeKind = "parallel"
	NodeKindMerge        NodeKind = "merge"
	NodeKindDelay        NodeKind = "delay"
	NodeKindTransform    NodeKind = "transform"
	NodeKindFilter       NodeKind = "filter"
	NodeKindCode         NodeKind = "code"
	NodeKindToolCall     NodeKind = "tool_call"
	NodeKindHTTPCall     NodeKind = "http_call"
	NodeKindDatabaseCall NodeKind = "database_call"
	NodeKindApproval     NodeKind = "approval"
	NodeKindBlock        NodeKind = "block"
	NodeKindTrigger      NodeKind = "trigger"
	NodeKindWebhook      NodeKind = "webhook"
	NodeKindSchedule     NodeKind = "schedule"
)

// AllNodeKinds lists every known kind, in declaration order.
var AllNodeKinds = []NodeKind{
	NodeKindEntry, NodeKindExit, NodeKindAgentCall, NodeKindModelCall,
	NodeKindCondition, NodeKindLoop, NodeKindParallel, NodeKindMerge,
	NodeKindDelay, NodeKindTransform, NodeKindFilter, NodeKindCode,
	NodeKindToolCall, NodeKindHTTPCall, NodeKindDatabaseCall,
	NodeKindApproval, NodeKindBlock, NodeKindTrigger, NodeKindWebhook,
	NodeKindSchedule,
}

// IsEntryLike reports whether a node of this kind can serve as the
// inferred entry point of a workflow.
func (k NodeKind) IsEntryLike() bool {
	switch k {
	case NodeKindEntry, NodeKindTrigger, NodeKindWebhook, NodeKindSchedule:
		return true
	}
	return false
}

// IsExit reports whether reaching a node of this kind ends the run.
func (k NodeKind) IsExit() bool { return k == NodeKindExit }

// Known reports whether the kind belongs to the closed set.
func (k NodeKind) Known() bool {
	for _, known := range AllNodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EdgeKind identifies how an edge participates in routing.
type EdgeKind string

const (
	EdgeKindNormal      EdgeKind = "normal"
	EdgeKindConditional EdgeKind = "conditional"
	EdgeKindError       EdgeKind = "error"
	EdgeKindTimeout     EdgeKind = "timeout"
	EdgeKindLoopBack    EdgeKind = "loop_back"
)

// AllEdgeKinds lists every known edge kind.
var AllEdgeKinds = []EdgeKind{
	EdgeKindNormal, EdgeKindConditional, EdgeKindError,
	EdgeKindTimeout, EdgeKindLoopBack,
}

// Known reports whether the edge kind belongs to the closed set.
func (k EdgeKind) Known() bool {
	for _, known := range AllEdgeKinds {
		if k == known {
			return true
		}
	}
	return false
}
