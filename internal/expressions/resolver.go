package expressions

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	placeholderOpen  = "{{"
	placeholderClose = "}}"
)

// Resolver substitutes {{...}} placeholders in strings against a Scope.
//
// Resolution is total: it never returns an error and never panics.
// Recognized references (input.*, vars.*, nodes.*) that point at missing
// data resolve to the empty string; placeholders outside those namespaces
// are left in the output verbatim, including the braces. Malformed input
// (an opening {{ with no closing }}) is also passed through untouched.
type Resolver struct{}

// NewResolver creates a template resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve replaces every placeholder in s and returns the result.
// Non-string values are rendered inline: scalars via their natural text
// form, maps and slices as compact JSON.
func (r *Resolver) Resolve(s string, scope Scope) string {
	if !strings.Contains(s, placeholderOpen) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	rest := s
	for {
		open := strings.Index(rest, placeholderOpen)
		if open == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])

		tail := rest[open+len(placeholderOpen):]
		end := strings.Index(tail, placeholderClose)
		if end == -1 {
			// Unterminated placeholder: emit the remainder as-is.
			b.WriteString(rest[open:])
			break
		}

		token := strings.TrimSpace(tail[:end])
		if val, ok := lookupReference(token, scope); ok {
			b.WriteString(renderInline(val))
		} else {
			// Unrecognized namespace: keep the placeholder verbatim.
			b.WriteString(rest[open : open+len(placeholderOpen)+end+len(placeholderClose)])
		}

		rest = tail[end+len(placeholderClose):]
	}

	return b.String()
}

// ResolveValue resolves a mapping source to its structured value.
// Three forms are accepted, checked in order:
//
//  1. a string that is exactly one placeholder ("{{nodes.a.items}}")
//     resolves to the referenced value with its original type;
//  2. a bare reference ("input.ticket", "vars.count", "nodes.a.items")
//     resolves the same way without braces;
//  3. anything else resolves as a template via Resolve, so literals pass
//     through and embedded placeholders are substituted.
//
// Missing recognized references yield nil in forms 1 and 2.
func (r *Resolver) ResolveValue(source string, scope Scope) any {
	trimmed := strings.TrimSpace(source)

	if token, ok := wholePlaceholder(trimmed); ok {
		if val, found := lookupReference(token, scope); found {
			return val
		}
		// Unrecognized whole placeholder: same verbatim rule as Resolve.
		return source
	}

	if isReference(trimmed) {
		val, _ := lookupReference(trimmed, scope)
		return val
	}

	return r.Resolve(source, scope)
}

// ResolveMap applies ResolveValue to every entry of an input mapping,
// producing the input payload for a node. A nil mapping yields nil.
func (r *Resolver) ResolveMap(mapping map[string]string, scope Scope) map[string]any {
	if mapping == nil {
		return nil
	}
	out := make(map[string]any, len(mapping))
	for key, source := range mapping {
		out[key] = r.ResolveValue(source, scope)
	}
	return out
}

// wholePlaceholder reports whether s is exactly one {{...}} placeholder
// and returns the trimmed inner token.
func wholePlaceholder(s string) (string, bool) {
	if !strings.HasPrefix(s, placeholderOpen) || !strings.HasSuffix(s, placeholderClose) {
		return "", false
	}
	inner := s[len(placeholderOpen) : len(s)-len(placeholderClose)]
	// Reject "{{a}} and {{b}}": the first close must be the final one.
	if strings.Contains(inner, placeholderClose) || strings.Contains(inner, placeholderOpen) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// isReference reports whether s names a scope namespace directly.
func isReference(s string) bool {
	for _, ns := range []string{"input", "vars", "nodes"} {
		if s == ns || strings.HasPrefix(s, ns+".") {
			return true
		}
	}
	return false
}

// lookupReference resolves a dotted token against the scope. The boolean
// reports whether the token's namespace is recognized at all; recognized
// tokens that point at missing data return (nil, true) so callers render
// them as empty rather than preserving the placeholder.
func lookupReference(token string, scope Scope) (any, bool) {
	namespace, path, _ := strings.Cut(token, ".")

	switch namespace {
	case "input":
		if path == "" {
			return scope.Input, true
		}
		val, _ := traverse(scope.Input, path)
		return val, true
	case "vars":
		if path == "" {
			return scope.Vars, true
		}
		val, _ := traverse(scope.Vars, path)
		return val, true
	case "nodes":
		if path == "" {
			return scope.Nodes, true
		}
		nodeID, fieldPath, _ := strings.Cut(path, ".")
		output, ok := scope.Nodes[nodeID]
		if !ok {
			return nil, true
		}
		if fieldPath == "" {
			return output, true
		}
		val, _ := traverse(output, fieldPath)
		return val, true
	default:
		return nil, false
	}
}

// traverse resolves a dot-delimited path inside a map. A direct key lookup
// is tried first so keys containing dots keep working.
func traverse(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if val, ok := data[path]; ok {
		return val, true
	}

	current := any(data)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// renderInline converts a resolved value to its inline text form.
// Strings embed without quotes; composites render as compact JSON.
func renderInline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%v", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
