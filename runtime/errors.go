package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies engine failures for propagation and retry decisions.
type ErrorKind string

const (
	// KindValidation marks a malformed workflow definition or an
	// unresolvable reference inside one. Fatal at load time.
	KindValidation ErrorKind = "validation"
	// KindTransient marks a step failure that a caller may retry
	// (network error, 5xx, 429, timeout).
	KindTransient ErrorKind = "transient"
	// KindPermanent marks a step failure that retrying cannot fix
	// (4xx other than 429, schema mismatch).
	KindPermanent ErrorKind = "permanent"
	// KindConflict marks a rejected concurrent advance on one session.
	KindConflict ErrorKind = "conflict"
	// KindNotFound marks an unknown session, step, or component id.
	KindNotFound ErrorKind = "not_found"
)

// Known framework error codes. Step failures may carry any code.
const (
	CodeUnknownProvider  = "UNKNOWN_PROVIDER"
	CodeProviderNetwork  = "PROVIDER_NETWORK"
	CodeProviderStatus   = "PROVIDER_STATUS"
	CodeProviderPayload  = "PROVIDER_PAYLOAD"
	CodeInvalidParams    = "INVALID_PARAMS"
	CodeSessionLocked    = "SESSION_LOCKED"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeStepNotFound     = "STEP_NOT_FOUND"
	CodeComponentUnknown = "COMPONENT_UNKNOWN"
	CodeDefinitionError  = "DEFINITION_ERROR"
)

// EngineError is the canonical error propagated through the engine.
// It is JSON-serializable so it can travel inside session snapshots.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Step    string    `json:"step,omitempty"`
	cause   error
}

func (e *EngineError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s/%s] %s (step: %s)", e.Kind, e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.cause
}

// WithStep returns a copy of the error attributed to the given step.
func (e *EngineError) WithStep(stepID string) *EngineError {
	copy := *e
	copy.Step = stepID
	return &copy
}

func newError(kind ErrorKind, code, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Code: code, Message: message, cause: cause}
}

func NewValidationError(message string) *EngineError {
	return newError(KindValidation, CodeDefinitionError, message, nil)
}

func NewConflictError(sessionID string) *EngineError {
	return newError(KindConflict, CodeSessionLocked,
		fmt.Sprintf("session %s is already advancing", sessionID), nil)
}

func NewNotFoundError(code, message string) *EngineError {
	return newError(KindNotFound, code, message, nil)
}

// NewStepFailure builds a transient or permanent step failure.
func NewStepFailure(kind ErrorKind, code, message string, cause error) *EngineError {
	return newError(kind, code, message, cause)
}

// IsKind reports whether err (or anything it wraps) is an EngineError of the
// given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Kind == kind
}

// AsEngineError unwraps err into an EngineError, or wraps an arbitrary error
// as a permanent step failure so that nothing escapes unclassified.
func AsEngineError(err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return newError(KindPermanent, "RUNTIME_ERROR", err.Error(), err)
}

// InputRequiredError signals that a step cannot run until the listed
// components report values. It is a normal blocking state, not a failure:
// the session moves to waiting instead of failed.
type InputRequiredError struct {
	ComponentIDs []string
}

func (e *InputRequiredError) Error() string {
	return fmt.Sprintf("waiting for input: %s", strings.Join(e.ComponentIDs, ", "))
}

// AsInputRequired returns the InputRequiredError inside err, if any.
func AsInputRequired(err error) (*InputRequiredError, bool) {
	var ir *InputRequiredError
	ok := errors.As(err, &ir)
	return ir, ok
}
