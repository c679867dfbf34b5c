package runtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// FileUpload carries one uploaded file through the session API.
type FileUpload struct {
	Name        string
	ContentType string
	Content     []byte
}

// Engine owns session lifecycle: it is the only mutator of session state
// and drives the step executor. It is a stateless request handler over the
// session store; all progression is synchronous and client-initiated.
type Engine struct {
	l        *slog.Logger
	def      *WorkflowDefinition
	sessions SessionStore
	uploads  UploadStore
	executor *StepExecutor

	tracer        trace.Tracer
	stepsExecuted metric.Int64Counter
	stepsFailed   metric.Int64Counter
}

func NewEngine(l *slog.Logger, def *WorkflowDefinition, sessions SessionStore, uploads UploadStore, executor *StepExecutor) *Engine {
	meter := otel.Meter("stepweave/runtime")
	stepsExecuted, _ := meter.Int64Counter("stepweave.steps.executed",
		metric.WithDescription("Pipeline steps executed, by outcome"))
	stepsFailed, _ := meter.Int64Counter("stepweave.steps.failed",
		metric.WithDescription("Pipeline steps that ended in failure"))

	return &Engine{
		l:             l,
		def:           def,
		sessions:      sessions,
		uploads:       uploads,
		executor:      executor,
		tracer:        otel.Tracer("stepweave/runtime"),
		stepsExecuted: stepsExecuted,
		stepsFailed:   stepsFailed,
	}
}

// Definition returns the loaded workflow definition.
func (e *Engine) Definition() *WorkflowDefinition {
	return e.def
}

// CreateSession allocates an idle session pointing at the first UI step.
func (e *Engine) CreateSession(ctx context.Context) (*Snapshot, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:             uuid.New().String(),
		Status:         StatusIdle,
		Context:        map[string]any{"inputs": map[string]any{}},
		View:           map[string]any{},
		ComponentState: map[string]ComponentState{},
		StepStatus:     map[string]StepStatus{},
		ActiveStepID:   e.def.UISteps[0].ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for key, value := range e.def.Properties {
		if s, ok := value.(string); ok {
			value = resolveEnvRefs(s)
		}
		setNestedValue(session.Context, "properties."+key, value)
	}

	if err := e.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	e.l.InfoContext(ctx, "Created session", "session", session.ID, "workflow", e.def.Info.Name)
	return session.snapshot(), nil
}

// GetSession returns the current snapshot without mutating anything.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.snapshot(), nil
}

// RecordComponentValue stores a component input. Last write wins; recording
// never triggers execution, only Advance does.
func (e *Engine) RecordComponentValue(ctx context.Context, sessionID, componentID string, value any) (*Snapshot, error) {
	if _, ok := e.def.Component(componentID); !ok {
		return nil, NewNotFoundError(CodeComponentUnknown,
			fmt.Sprintf("component %q is not declared in the workflow definition", componentID))
	}
	return e.mutate(ctx, sessionID, func(session *Session) error {
		e.recordValue(session, componentID, value)
		return nil
	})
}

// RecordUpload persists the file bytes through the upload store and records
// the normalized file value for the component.
func (e *Engine) RecordUpload(ctx context.Context, sessionID, componentID string, file FileUpload) (*Snapshot, error) {
	component, ok := e.def.Component(componentID)
	if !ok {
		return nil, NewNotFoundError(CodeComponentUnknown,
			fmt.Sprintf("component %q is not declared in the workflow definition", componentID))
	}
	if component.Kind != UIKindFileInput {
		return nil, NewValidationError(fmt.Sprintf("component %q does not accept file uploads", componentID))
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ref, err := e.uploads.Put(ctx, file.Name, contentType, file.Content)
	if err != nil {
		return nil, err
	}

	normalized := map[string]any{
		"name":         file.Name,
		"content_type": contentType,
		"size":         len(file.Content),
		"storage_ref":  ref,
		"content_b64":  base64.StdEncoding.EncodeToString(file.Content),
	}
	return e.mutate(ctx, sessionID, func(session *Session) error {
		e.recordValue(session, componentID, normalized)
		return nil
	})
}

// Advance executes pipeline steps from the session's current position until
// the pipeline completes, blocks on input, or fails. Concurrent calls on
// one session are rejected with a conflict; retries after a network error
// may re-invoke providers, which is an accepted risk for callers.
func (e *Engine) Advance(ctx context.Context, sessionID, targetStepID string) (*Snapshot, error) {
	if targetStepID != "" {
		if _, ok := e.def.Step(targetStepID); !ok {
			return nil, NewNotFoundError(CodeStepNotFound,
				fmt.Sprintf("pipeline step %q is not declared in the workflow definition", targetStepID))
		}
	}

	release, err := e.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Terminal sessions and sessions still waiting on input are returned
	// untouched; re-running advance is harmless in both cases.
	if session.Status.Terminal() {
		return session.snapshot(), nil
	}
	if session.Status == StatusWaiting && !e.waitingSatisfied(session) {
		return session.snapshot(), nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.advance", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("step.target", targetStepID),
	))
	defer span.End()

	session.markRunning()
	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	ec := NewExecutionContext(session.Context, session.View)
	e.runPipeline(ctx, session, ec)

	session.Context, session.View = ec.Snapshot()
	e.refreshUISteps(session)
	session.touch()

	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session.snapshot(), nil
}

func (e *Engine) runPipeline(ctx context.Context, session *Session, ec *ExecutionContext) {
	steps := e.def.Pipeline
	for session.NextStepIndex < len(steps) {
		step := steps[session.NextStepIndex]
		outcome := e.executor.ExecuteStep(ctx, ec, step)
		e.stepsExecuted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", step.Component),
			attribute.String("outcome", string(outcome.Status)),
		))

		switch outcome.Status {
		case StepPending:
			// Input still required: block without consuming the step so
			// the next advance retries it.
			session.markWaiting(outcome.WaitingFor)
			for _, id := range outcome.WaitingFor {
				if _, seen := session.ComponentState[id]; !seen {
					session.ComponentState[id] = ComponentState{Status: StepPending, UpdatedAt: time.Now().UTC()}
				}
			}
			return

		case StepSkipped:
			session.StepStatus[step.ID] = StepSkipped
			session.NextStepIndex++

		case StepCompleted:
			session.StepStatus[step.ID] = StepCompleted
			session.NextStepIndex++

		case StepFailed:
			session.StepStatus[step.ID] = StepFailed
			e.stepsFailed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("component", step.Component),
				attribute.String("kind", string(outcome.Err.Kind)),
			))
			switch step.Policy() {
			case OnErrorAbort:
				session.markFailed(fmt.Sprintf("step %s failed: %s", step.ID, outcome.Err.Message))
				e.l.ErrorContext(ctx, "Pipeline aborted",
					"session", session.ID,
					"step", step.ID,
					"error", outcome.Err.Message)
				return
			case OnErrorSkip, OnErrorContinue:
				// Failed but non-fatal: the step's value stays absent from
				// context and execution proceeds.
				session.NextStepIndex++
			}
		}
	}

	if session.Status == StatusRunning {
		session.markCompleted()
		e.l.InfoContext(ctx, "Pipeline completed", "session", session.ID)
	}
}

// mutate applies fn to the session under the per-session lock and persists
// the result.
func (e *Engine) mutate(ctx context.Context, sessionID string, fn func(*Session) error) (*Snapshot, error) {
	release, err := e.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	e.refreshUISteps(session)
	session.touch()
	if err := e.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session.snapshot(), nil
}

func (e *Engine) recordValue(session *Session, componentID string, value any) {
	session.ComponentState[componentID] = ComponentState{
		Value:     value,
		Status:    StepCompleted,
		UpdatedAt: time.Now().UTC(),
	}
	setNestedValue(session.Context, "inputs."+componentID, value)

	if i := slices.Index(session.WaitingFor, componentID); i >= 0 {
		session.WaitingFor = slices.Delete(session.WaitingFor, i, i+1)
	}
}

func (e *Engine) waitingSatisfied(session *Session) bool {
	for _, id := range session.WaitingFor {
		if session.ComponentState[id].Status != StepCompleted {
			return false
		}
	}
	return true
}

// refreshUISteps recomputes the unlocked frontier. A UI step is unlocked
// exactly when every component in its prerequisite list has completed and
// every button-bound pipeline step has run. Revisiting earlier unlocked
// steps stays permitted; the active pointer only marks the frontier.
func (e *Engine) refreshUISteps(session *Session) {
	if session.Status == StatusCompleted {
		completed := make([]string, 0, len(e.def.UISteps))
		for _, step := range e.def.UISteps {
			completed = append(completed, step.ID)
		}
		session.CompletedUISteps = completed
		session.ActiveStepID = e.def.UISteps[len(e.def.UISteps)-1].ID
		return
	}
	completed := make([]string, 0, len(e.def.UISteps))
	active := e.def.UISteps[0].ID
	for _, step := range e.def.UISteps {
		active = step.ID
		if !e.uiStepSatisfied(session, step) {
			break
		}
		completed = append(completed, step.ID)
	}
	session.ActiveStepID = active
	session.CompletedUISteps = completed
}

func (e *Engine) uiStepSatisfied(session *Session, step UIStep) bool {
	for _, componentID := range step.Requires {
		if session.ComponentState[componentID].Status != StepCompleted {
			return false
		}
	}
	for _, component := range step.Components {
		if component.Kind != UIKindButton || component.TargetStep == "" {
			continue
		}
		status := session.StepStatus[component.TargetStep]
		if status != StepCompleted && status != StepSkipped {
			return false
		}
	}
	return true
}

// setNestedValue writes a dotted path into a plain map tree in place,
// creating intermediate objects.
func setNestedValue(root map[string]any, path string, value any) {
	_, _ = gabs.Wrap(root).SetP(value, path)
}
