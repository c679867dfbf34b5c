package runtime

import (
	"time"
)

type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusWaiting   SessionStatus = "waiting"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible. A failed
// session cannot be retried; callers create a new session instead.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ComponentState records the last value a UI component reported and when.
type ComponentState struct {
	Value     any        `json:"value,omitempty"`
	Status    StepStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Session is one stateful execution instance of a workflow definition.
// It is mutated exclusively by the Engine while holding the session lock.
type Session struct {
	ID               string                    `json:"sessionId"`
	Status           SessionStatus             `json:"status"`
	Context          map[string]any            `json:"context"`
	View             map[string]any            `json:"view"`
	ComponentState   map[string]ComponentState `json:"componentState"`
	StepStatus       map[string]StepStatus     `json:"stepStatus"`
	ActiveStepID     string                    `json:"activeStepId"`
	CompletedUISteps []string                  `json:"completedUiSteps"`
	WaitingFor       []string                  `json:"waitingFor"`
	NextStepIndex    int                       `json:"nextStepIndex"`
	LastError        string                    `json:"lastError,omitempty"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) markRunning() {
	s.Status = StatusRunning
	s.LastError = ""
	s.WaitingFor = nil
	s.touch()
}

func (s *Session) markWaiting(componentIDs []string) {
	s.Status = StatusWaiting
	s.WaitingFor = componentIDs
	s.touch()
}

func (s *Session) markCompleted() {
	s.Status = StatusCompleted
	s.WaitingFor = nil
	s.touch()
}

func (s *Session) markFailed(message string) {
	s.Status = StatusFailed
	s.LastError = message
	s.touch()
}

// Snapshot is the client-facing projection of a session. Every API call
// returns a full snapshot; clients overwrite local state with it wholesale.
type Snapshot struct {
	SessionID        string                    `json:"sessionId"`
	Status           SessionStatus             `json:"status"`
	ActiveStepID     string                    `json:"activeStepId"`
	CompletedUISteps []string                  `json:"completedUiSteps"`
	WaitingFor       []string                  `json:"waitingFor,omitempty"`
	StepStatus       map[string]StepStatus     `json:"stepStatus"`
	ComponentState   map[string]ComponentState `json:"componentState"`
	Context          map[string]any            `json:"context"`
	View             map[string]any            `json:"view"`
	LastError        string                    `json:"lastError,omitempty"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

// snapshot projects the session for transport. Raw upload payloads are
// reduced to their metadata so file bytes never leave the engine through
// the session API.
func (s *Session) snapshot() *Snapshot {
	snap := &Snapshot{
		SessionID:        s.ID,
		Status:           s.Status,
		ActiveStepID:     s.ActiveStepID,
		CompletedUISteps: append([]string(nil), s.CompletedUISteps...),
		WaitingFor:       append([]string(nil), s.WaitingFor...),
		StepStatus:       make(map[string]StepStatus, len(s.StepStatus)),
		ComponentState:   make(map[string]ComponentState, len(s.ComponentState)),
		Context:          sanitizeContext(s.Context),
		View:             deepCopyMap(s.View),
		LastError:        s.LastError,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	for id, status := range s.StepStatus {
		snap.StepStatus[id] = status
	}
	for id, state := range s.ComponentState {
		state.Value = sanitizeInputValue(state.Value)
		snap.ComponentState[id] = state
	}
	return snap
}

// sanitizeContext strips raw file content from the inputs subtree, keeping
// only name, content type, size, and storage reference.
func sanitizeContext(context map[string]any) map[string]any {
	out := deepCopyMap(context)
	inputs, ok := out["inputs"].(map[string]any)
	if !ok {
		return out
	}
	for id, value := range inputs {
		inputs[id] = sanitizeInputValue(value)
	}
	return out
}

func sanitizeInputValue(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	if _, isFile := m["content_b64"]; !isFile {
		return value
	}
	sanitized := map[string]any{}
	for _, key := range []string{"name", "content_type", "size", "storage_ref"} {
		if v, present := m[key]; present {
			sanitized[key] = v
		}
	}
	return sanitized
}
