package runtime

import (
	"context"
	"fmt"
	"log/slog"
)

// StepOutcome reports the result of one pipeline step execution.
type StepOutcome struct {
	Status StepStatus
	// Value is the component output on success.
	Value any
	// WaitingFor lists component ids that must report values before the
	// step can run. Set only when Status is StepPending.
	WaitingFor []string
	// Err is the classified failure when Status is StepFailed.
	Err *EngineError
}

// StepExecutor runs a single pipeline step: condition, parameter binding,
// component dispatch, and failure classification. The on_error policy is
// applied by the caller, which owns session status transitions.
type StepExecutor struct {
	l          *slog.Logger
	eval       *Evaluator
	components map[string]Component
}

func NewStepExecutor(l *slog.Logger, eval *Evaluator, gateway *ProviderGateway) *StepExecutor {
	return &StepExecutor{
		l:    l,
		eval: eval,
		components: map[string]Component{
			ComponentCallProvider: &callProviderComponent{gateway: gateway},
			ComponentFileUploader: &fileUploaderComponent{},
			ComponentTransform:    &transformComponent{eval: eval},
			ComponentSetState:     &setStateComponent{},
			ComponentForEach:      &forEachComponent{},
		},
	}
}

// ExecuteStep runs one step against the execution context. Exactly one
// component kind is dispatched. On success the produced value is written
// under the step's id; a falsy condition leaves the context untouched.
func (e *StepExecutor) ExecuteStep(ctx context.Context, ec *ExecutionContext, step PipelineStep) StepOutcome {
	if step.Condition != "" {
		met, err := e.eval.EvalCondition(step.Condition, ec.Values())
		if err != nil {
			e.l.WarnContext(ctx, "Condition evaluation failed, skipping step",
				"step", step.ID,
				"condition", step.Condition,
				"error", err)
		}
		if !met {
			e.l.InfoContext(ctx, "Skipping step, condition not met",
				"step", step.ID,
				"condition", step.Condition)
			return StepOutcome{Status: StepSkipped}
		}
	}

	component, ok := e.components[step.Component]
	if !ok {
		return StepOutcome{
			Status: StepFailed,
			Err: NewStepFailure(KindPermanent, CodeComponentUnknown,
				fmt.Sprintf("component kind %q is not registered", step.Component), nil).WithStep(step.ID),
		}
	}

	value, err := component.Execute(ctx, ec, step)
	if err != nil {
		if wait, blocked := AsInputRequired(err); blocked {
			e.l.InfoContext(ctx, "Step waiting for input",
				"step", step.ID,
				"components", wait.ComponentIDs)
			return StepOutcome{Status: StepPending, WaitingFor: wait.ComponentIDs}
		}
		failure := AsEngineError(err).WithStep(step.ID)
		e.l.ErrorContext(ctx, "Step execution failed",
			"step", step.ID,
			"component", step.Component,
			"kind", string(failure.Kind),
			"error", failure.Message)
		return StepOutcome{Status: StepFailed, Err: failure}
	}

	// Component outputs land under a stable key equal to the step id so
	// later bindings and the UI can rely on the shape.
	ec.Set(step.ID, value)
	e.l.InfoContext(ctx, "Step completed", "step", step.ID, "component", step.Component)
	return StepOutcome{Status: StepCompleted, Value: value}
}
