package runtime

import (
	"github.com/Jeffail/gabs/v2"
)

// ExecutionContext is the mutable state shared by pipeline components for
// the duration of one advance call. Data holds the binding context (step
// outputs, collected inputs); View holds values projected for UI rendering.
// Both are JSON-like trees addressed with dotted paths.
type ExecutionContext struct {
	data *gabs.Container
	view *gabs.Container
}

func NewExecutionContext(data, view map[string]any) *ExecutionContext {
	if data == nil {
		data = map[string]any{}
	}
	if view == nil {
		view = map[string]any{}
	}
	return &ExecutionContext{
		data: gabs.Wrap(deepCopyMap(data)),
		view: gabs.Wrap(deepCopyMap(view)),
	}
}

// Get resolves a dotted path in the data tree.
func (c *ExecutionContext) Get(path string) (any, bool) {
	return Resolve(c.data.Data(), path)
}

// Set writes a value at a dotted path, creating intermediate objects.
func (c *ExecutionContext) Set(path string, value any) {
	_, _ = c.data.SetP(value, path)
}

// SetView writes a value into the UI-facing view tree. A leading "view."
// prefix is tolerated so definitions may spell view paths either way.
func (c *ExecutionContext) SetView(path string, value any) {
	if len(path) > 5 && path[:5] == "view." {
		path = path[5:]
	}
	_, _ = c.view.SetP(value, path)
}

// Values returns the full data tree for expression evaluation and template
// rendering. Callers must not mutate the result.
func (c *ExecutionContext) Values() map[string]any {
	if m, ok := c.data.Data().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Snapshot returns deep copies of the data and view trees, safe to persist.
func (c *ExecutionContext) Snapshot() (map[string]any, map[string]any) {
	data, _ := c.data.Data().(map[string]any)
	view, _ := c.view.Data().(map[string]any)
	return deepCopyMap(data), deepCopyMap(view)
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
