package runtime

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Resolve walks a dot-separated path into a JSON-like tree. A segment that
// parses as a non-negative integer indexes the current node only when it is
// a sequence; objects are keyed by the raw segment, never indexed. The walk
// short-circuits to (nil, false) as soon as the current node is not a
// container or the key/index is absent. It never panics.
func Resolve(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	node := gabs.Wrap(root)
	for _, segment := range strings.Split(path, ".") {
		if node == nil {
			return nil, false
		}
		switch data := node.Data().(type) {
		case map[string]any:
			child, ok := data[segment]
			if !ok {
				return nil, false
			}
			node = gabs.Wrap(child)
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(data) {
				return nil, false
			}
			node = node.Index(index)
		default:
			return nil, false
		}
	}
	return node.Data(), true
}

var templatePattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Render expands every {{ path | filter(args) }} occurrence in template
// against ctx. Paths that resolve to nothing render as the empty string;
// missing values are never an error in rendered text.
func Render(template string, ctx map[string]any) string {
	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := evalTemplateExpr(expr, ctx)
		if !ok || value == nil {
			return ""
		}
		return stringify(value)
	})
}

// ResolveValue resolves a bindable parameter value. A string consisting of a
// single {{ expr }} expression yields the raw resolved value, preserving its
// type; any other string is template-expanded; maps and lists recurse.
func ResolveValue(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
			strings.Count(trimmed, "{{") == 1 {
			resolved, ok := evalTemplateExpr(strings.TrimSpace(trimmed[2:len(trimmed)-2]), ctx)
			if !ok {
				return nil
			}
			return resolved
		}
		return Render(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = ResolveValue(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = ResolveValue(val, ctx)
		}
		return out
	default:
		return value
	}
}

// evalTemplateExpr evaluates "path (| filter(args))*" against ctx, applying
// filters left to right.
func evalTemplateExpr(expr string, ctx map[string]any) (any, bool) {
	parts := strings.Split(expr, "|")
	value, ok := Resolve(ctx, strings.TrimSpace(parts[0]))
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		value = applyFilter(value, strings.TrimSpace(part))
	}
	return value, true
}

// applyFilter applies a single filter. Filters never fail: a filter that
// does not apply to the value's type passes it through unchanged, and
// unknown filters are no-ops.
func applyFilter(value any, filter string) any {
	name := filter
	var args []string
	if open := strings.IndexByte(filter, '('); open >= 0 && strings.HasSuffix(filter, ")") {
		name = strings.TrimSpace(filter[:open])
		raw := filter[open+1 : len(filter)-1]
		for _, a := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(a); trimmed != "" {
				args = append(args, trimmed)
			}
		}
	}

	switch name {
	case "round":
		precision := 0
		if len(args) > 0 {
			if p, err := strconv.Atoi(args[0]); err == nil {
				precision = p
			}
		}
		if f, ok := asFloat(value); ok {
			factor := math.Pow(10, float64(precision))
			return math.Round(f*factor) / factor
		}
		return value
	case "upper":
		if s, ok := value.(string); ok {
			return strings.ToUpper(s)
		}
		return value
	case "lower":
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
		return value
	default:
		return value
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
