package runtime

// WorkflowDefinition is the declarative document the engine interprets.
// It is immutable once loaded; sessions only ever read it.
type WorkflowDefinition struct {
	Info       Info           `yaml:"info" json:"info" validate:"required"`
	Providers  []Provider     `yaml:"providers" json:"providers" validate:"dive"`
	UISteps    []UIStep       `yaml:"ui_steps" json:"uiSteps" validate:"min=1,dive"`
	Pipeline   []PipelineStep `yaml:"pipeline" json:"pipelineSteps" validate:"dive"`
	Properties map[string]any `yaml:"properties" json:"-"`
}

type Info struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description"`
	Version     string `yaml:"version" json:"version"`
}

// Provider names an external API a pipeline step can invoke.
type Provider struct {
	ID       string            `yaml:"id" json:"id" validate:"required,excludesall=."`
	Endpoint string            `yaml:"endpoint" json:"endpoint" validate:"required"`
	Method   string            `yaml:"method" json:"method" validate:"omitempty,oneof=GET POST"`
	Headers  map[string]string `yaml:"headers" json:"headers,omitempty"`
	// CredentialEnv names an environment variable holding a bearer token.
	// The token itself never appears in the definition.
	CredentialEnv string `yaml:"credential_env" json:"-"`
}

// UI component kinds form a closed set; anything else fails validation.
const (
	UIKindFileInput = "file_input"
	UIKindButton    = "button"
	UIKindTable     = "table"
	UIKindAlert     = "alert"
	UIKindText      = "text"
)

type UIStep struct {
	ID          string        `yaml:"id" json:"id" validate:"required,excludesall=."`
	Title       string        `yaml:"title" json:"title" validate:"required"`
	Description string        `yaml:"description" json:"description,omitempty"`
	Components  []UIComponent `yaml:"components" json:"components" validate:"dive"`
	// Requires lists component ids whose values must be completed before
	// this UI step unlocks.
	Requires []string `yaml:"requires" json:"requires,omitempty"`
}

type UIComponent struct {
	ID    string         `yaml:"id" json:"id" validate:"required,excludesall=."`
	Kind  string         `yaml:"kind" json:"kind" validate:"required,oneof=file_input button table alert text"`
	Label string         `yaml:"label" json:"label,omitempty"`
	Props map[string]any `yaml:"props" json:"props,omitempty"`
	// Bindings map component props to context paths, rendered by the
	// client with the same path rules the engine uses.
	Bindings map[string]string `yaml:"bindings" json:"bindings,omitempty"`
	// TargetStep is the pipeline step a button dispatches. Only meaningful
	// for kind=button; validated against the pipeline at load time.
	TargetStep string `yaml:"target_step" json:"targetStep,omitempty"`
}

// Pipeline component kinds. Exactly one dispatch kind runs per step.
const (
	ComponentCallProvider = "call_provider"
	ComponentFileUploader = "file_uploader"
	ComponentTransform    = "transform"
	ComponentSetState     = "set_state"
	ComponentForEach      = "for_each"
)

// OnError policies.
const (
	OnErrorAbort    = "abort"
	OnErrorSkip     = "skip"
	OnErrorContinue = "continue"
)

type PipelineStep struct {
	ID        string         `yaml:"id" json:"id" validate:"required,excludesall=."`
	Component string         `yaml:"component" json:"component" validate:"required,oneof=call_provider file_uploader transform set_state for_each"`
	Title     string         `yaml:"title" json:"title,omitempty"`
	Params    map[string]any `yaml:"params" json:"params,omitempty"`
	Condition string         `yaml:"condition" json:"condition,omitempty"`
	OnError   string         `yaml:"on_error" json:"onError,omitempty" validate:"omitempty,oneof=abort skip continue"`

	// decoded holds the typed parameter struct for Component, produced
	// once at load time.
	decoded any `yaml:"-" json:"-"`
}

// TypedParams returns the parameter struct decoded at load time. The
// concrete type matches the step's component kind.
func (s *PipelineStep) TypedParams() any {
	return s.decoded
}

// Policy returns the step's on_error policy, defaulting to abort.
func (s *PipelineStep) Policy() string {
	if s.OnError == "" {
		return OnErrorAbort
	}
	return s.OnError
}

// CallProviderParams configures a call_provider step. Inputs values are
// bindable: template strings are resolved against the session context
// before the provider is invoked.
type CallProviderParams struct {
	Provider   string         `json:"provider" validate:"required"`
	Inputs     map[string]any `json:"inputs"`
	OutputPath string         `json:"output_path"`
	ViewPath   string         `json:"view_path"`
}

// FileUploaderParams configures a file_uploader step. ComponentID names the
// UI file input whose recorded upload the step consumes.
type FileUploaderParams struct {
	ComponentID string `json:"component_id" validate:"required"`
	Target      string `json:"target"`
	ViewPath    string `json:"view_path"`
}

// TransformParams configures a transform step: a pure expression over the
// session context.
type TransformParams struct {
	Expression string `json:"expression" validate:"required"`
	ViewPath   string `json:"view_path"`
}

// SetStateParams assigns resolved values to context paths.
type SetStateParams struct {
	Updates map[string]any `json:"updates" validate:"required,min=1"`
}

// ForEachParams maps a source list into a target list, applying a per-item
// template mapping. Map values may reference item.* alongside context paths.
type ForEachParams struct {
	Source   string            `json:"source" validate:"required"`
	Target   string            `json:"target"`
	Map      map[string]string `json:"map"`
	ViewPath string            `json:"view_path"`
}

// Step returns the pipeline step with the given id.
func (d *WorkflowDefinition) Step(id string) (PipelineStep, bool) {
	for _, s := range d.Pipeline {
		if s.ID == id {
			return s, true
		}
	}
	return PipelineStep{}, false
}

// ProviderByID returns the provider with the given id.
func (d *WorkflowDefinition) ProviderByID(id string) (Provider, bool) {
	for _, p := range d.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// Component returns the UI component with the given id, searching all UI
// steps.
func (d *WorkflowDefinition) Component(id string) (UIComponent, bool) {
	for _, step := range d.UISteps {
		for _, c := range step.Components {
			if c.ID == id {
				return c, true
			}
		}
	}
	return UIComponent{}, false
}
