package diagram

import (
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// RenderMermaid renders a model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidEdgeDef(edge)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		cls := mermaidStatusClass(node.Status.Status)
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a node definition with a shape keyed to the
// node kind: diamonds for conditions, circles for entry points and
// exits, stadiums for delays and approvals, subroutine boxes for the
// structural kinds.
func mermaidNodeDef(node Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)

	switch node.Kind {
	case schema.NodeKindCondition, schema.NodeKindFilter:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.NodeKindEntry, schema.NodeKindTrigger, schema.NodeKindWebhook, schema.NodeKindSchedule:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.NodeKindExit:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.NodeKindDelay, schema.NodeKindApproval:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.NodeKindLoop, schema.NodeKindParallel, schema.NodeKindMerge, schema.NodeKindBlock:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case schema.NodeKindTransform, schema.NodeKindCode:
		return fmt.Sprintf("%s{{%q}}", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidEdgeDef returns an edge line. Routing edges that only fire on
// failure (error, timeout) and loop-back edges are drawn dotted.
func mermaidEdgeDef(edge Edge) string {
	arrow := "-->"
	label := edge.Label
	switch edge.Kind {
	case schema.EdgeKindLoopBack:
		arrow = "-.->"
	case schema.EdgeKindError:
		arrow = "-.->"
		if label == "" {
			label = "error"
		}
	case schema.EdgeKindTimeout:
		arrow = "-.->"
		if label == "" {
			label = "timeout"
		}
	}
	if label != "" {
		return fmt.Sprintf("%s %s|%s| %s",
			mermaidSafeID(edge.From), arrow, mermaidEscapeLabel(label), mermaidSafeID(edge.To))
	}
	return fmt.Sprintf("%s %s %s", mermaidSafeID(edge.From), arrow, mermaidSafeID(edge.To))
}

// mermaidSafeID converts a node id to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel strips characters Mermaid treats as syntax.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer("\"", "'", "|", "/", "\n", " ")
	return r.Replace(s)
}

func mermaidStatusClass(status schema.StepStatus) string {
	switch status {
	case schema.StepStatusCompleted:
		return "completed"
	case schema.StepStatusFailed:
		return "failed"
	case schema.StepStatusRunning:
		return "running"
	case schema.StepStatusPending:
		return "pending"
	default:
		return ""
	}
}
