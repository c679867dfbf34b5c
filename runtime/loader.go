package runtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkflowStore loads and owns the workflow definition for one runtime
// process. The definition is parsed, validated, and its step parameters
// decoded once; everything downstream reads it immutably.
type WorkflowStore struct {
	def *WorkflowDefinition
}

// LoadWorkflow reads a workflow definition from disk.
func LoadWorkflow(path string) (*WorkflowStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("read workflow definition: %v", err))
	}
	return ParseWorkflow(raw)
}

// ParseWorkflow parses and fully validates a workflow document. Any defect
// is reported as a validation error; a definition that loads is safe to
// execute without further structural checks.
func ParseWorkflow(raw []byte) (*WorkflowStore, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, NewValidationError(fmt.Sprintf("parse workflow definition: %v", err))
	}
	if err := validate.Struct(&def); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid workflow definition: %v", err))
	}
	if err := decodeStepParams(&def); err != nil {
		return nil, err
	}
	if err := checkReferences(&def); err != nil {
		return nil, err
	}
	return &WorkflowStore{def: &def}, nil
}

// Definition returns the loaded definition.
func (s *WorkflowStore) Definition() *WorkflowDefinition {
	return s.def
}

// decodeStepParams converts each step's raw params map into the typed
// struct for its component kind and validates it.
func decodeStepParams(def *WorkflowDefinition) error {
	for i := range def.Pipeline {
		step := &def.Pipeline[i]

		var params any
		switch step.Component {
		case ComponentCallProvider:
			params = &CallProviderParams{}
		case ComponentFileUploader:
			params = &FileUploaderParams{}
		case ComponentTransform:
			params = &TransformParams{}
		case ComponentSetState:
			params = &SetStateParams{}
		case ComponentForEach:
			params = &ForEachParams{}
		default:
			return NewValidationError(fmt.Sprintf("step %q: unknown component %q", step.ID, step.Component))
		}

		if err := mapToStruct(step.Params, params); err != nil {
			return NewValidationError(fmt.Sprintf("step %q: invalid params: %v", step.ID, err))
		}
		if err := validate.Struct(params); err != nil {
			return NewValidationError(fmt.Sprintf("step %q: invalid params: %v", step.ID, err))
		}
		step.decoded = params
	}
	return nil
}

// checkReferences verifies every cross-reference in the definition: ids are
// unique, buttons dispatch declared pipeline steps, call_provider steps name
// declared providers, and prerequisite lists point at real components.
func checkReferences(def *WorkflowDefinition) error {
	providers := map[string]bool{}
	for _, p := range def.Providers {
		if providers[p.ID] {
			return NewValidationError(fmt.Sprintf("duplicate provider id %q", p.ID))
		}
		providers[p.ID] = true
	}

	steps := map[string]bool{}
	for _, s := range def.Pipeline {
		if steps[s.ID] {
			return NewValidationError(fmt.Sprintf("duplicate pipeline step id %q", s.ID))
		}
		steps[s.ID] = true
	}

	components := map[string]string{}
	uiSteps := map[string]bool{}
	for _, ui := range def.UISteps {
		if uiSteps[ui.ID] {
			return NewValidationError(fmt.Sprintf("duplicate ui step id %q", ui.ID))
		}
		uiSteps[ui.ID] = true
		for _, c := range ui.Components {
			if _, dup := components[c.ID]; dup {
				return NewValidationError(fmt.Sprintf("duplicate component id %q", c.ID))
			}
			components[c.ID] = c.Kind
		}
	}

	for _, ui := range def.UISteps {
		for _, required := range ui.Requires {
			if _, ok := components[required]; !ok {
				return NewValidationError(fmt.Sprintf("ui step %q requires unknown component %q", ui.ID, required))
			}
		}
		for _, c := range ui.Components {
			if c.Kind == UIKindButton && c.TargetStep != "" && !steps[c.TargetStep] {
				return NewValidationError(fmt.Sprintf("button %q targets unknown pipeline step %q", c.ID, c.TargetStep))
			}
		}
	}

	for _, s := range def.Pipeline {
		switch params := s.TypedParams().(type) {
		case *CallProviderParams:
			if !providers[params.Provider] {
				return NewValidationError(fmt.Sprintf("step %q calls unknown provider %q", s.ID, params.Provider))
			}
		case *FileUploaderParams:
			kind, ok := components[params.ComponentID]
			if !ok {
				return NewValidationError(fmt.Sprintf("step %q reads unknown component %q", s.ID, params.ComponentID))
			}
			if kind != UIKindFileInput {
				return NewValidationError(fmt.Sprintf("step %q reads component %q which is not a file input", s.ID, params.ComponentID))
			}
		}
	}
	return nil
}
