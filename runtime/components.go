package runtime

import (
	"context"
	"fmt"
)

// Component executes one pipeline step kind against the execution context.
// The returned value is merged into the context under the step's id.
type Component interface {
	Execute(ctx context.Context, ec *ExecutionContext, step PipelineStep) (any, error)
}

// callProviderComponent resolves the step's input bindings and invokes the
// named provider through the gateway.
type callProviderComponent struct {
	gateway *ProviderGateway
}

func (c *callProviderComponent) Execute(ctx context.Context, ec *ExecutionContext, step PipelineStep) (any, error) {
	params, ok := step.TypedParams().(*CallProviderParams)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams, "call_provider params missing", nil)
	}

	payload := map[string]any{}
	for key, value := range params.Inputs {
		payload[key] = ResolveValue(value, ec.Values())
	}

	value, err := c.gateway.Invoke(ctx, params.Provider, payload)
	if err != nil {
		return nil, err
	}

	if params.OutputPath != "" {
		ec.Set(params.OutputPath, value)
	}
	if params.ViewPath != "" {
		ec.SetView(params.ViewPath, value)
	}
	return value, nil
}

// fileUploaderComponent consumes an upload previously recorded for a UI
// file input. A missing upload is not a failure: it blocks the session in
// waiting until the client records one.
type fileUploaderComponent struct{}

func (c *fileUploaderComponent) Execute(_ context.Context, ec *ExecutionContext, step PipelineStep) (any, error) {
	params, ok := step.TypedParams().(*FileUploaderParams)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams, "file_uploader params missing", nil)
	}

	raw, present := ec.Get("inputs." + params.ComponentID)
	if !present || raw == nil {
		return nil, &InputRequiredError{ComponentIDs: []string{params.ComponentID}}
	}

	file, ok := raw.(map[string]any)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams,
			fmt.Sprintf("input %q is not an uploaded file", params.ComponentID), nil)
	}

	if params.Target != "" {
		ec.Set(params.Target, file)
	}

	meta := map[string]any{}
	for _, key := range []string{"name", "content_type", "size", "storage_ref"} {
		if v, exists := file[key]; exists {
			meta[key] = v
		}
	}
	if params.ViewPath != "" {
		ec.SetView(params.ViewPath, meta)
	}
	return meta, nil
}

// transformComponent evaluates a pure expression over the context.
type transformComponent struct {
	eval *Evaluator
}

func (c *transformComponent) Execute(_ context.Context, ec *ExecutionContext, step PipelineStep) (any, error) {
	params, ok := step.TypedParams().(*TransformParams)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams, "transform params missing", nil)
	}

	value, err := c.eval.Eval(params.Expression, ec.Values())
	if err != nil {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams,
			fmt.Sprintf("transform expression failed: %v", err), err)
	}

	if params.ViewPath != "" {
		ec.SetView(params.ViewPath, value)
	}
	return value, nil
}

// setStateComponent assigns resolved values into context paths.
type setStateComponent struct{}

func (c *setStateComponent) Execute(_ context.Context, ec *ExecutionContext, step PipelineStep) (any, error) {
	params, ok := step.TypedParams().(*SetStateParams)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams, "set_state params missing", nil)
	}

	resolved := map[string]any{}
	for target, value := range params.Updates {
		v := ResolveValue(value, ec.Values())
		ec.Set(target, v)
		resolved[target] = v
	}
	return resolved, nil
}

// forEachComponent maps a source list to a target list by applying a
// per-item template mapping. Templates may reference item.* alongside the
// rest of the context.
type forEachComponent struct{}

func (c *forEachComponent) Execute(_ context.Context, ec *ExecutionContext, step PipelineStep) (any, error) {
	params, ok := step.TypedParams().(*ForEachParams)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams, "for_each params missing", nil)
	}

	source, _ := ec.Get(params.Source)
	items, ok := source.([]any)
	if !ok {
		return nil, NewStepFailure(KindPermanent, CodeInvalidParams,
			fmt.Sprintf("for_each source %q did not resolve to a list", params.Source), nil)
	}

	result := make([]any, 0, len(items))
	for _, item := range items {
		if len(params.Map) == 0 {
			result = append(result, item)
			continue
		}
		scope := ec.Values()
		env := make(map[string]any, len(scope)+1)
		for k, v := range scope {
			env[k] = v
		}
		env["item"] = item

		mapped := map[string]any{}
		for key, template := range params.Map {
			mapped[key] = ResolveValue(template, env)
		}
		result = append(result, mapped)
	}

	if params.Target != "" {
		ec.Set(params.Target, result)
	}
	if params.ViewPath != "" {
		ec.SetView(params.ViewPath, result)
	}
	return result, nil
}
