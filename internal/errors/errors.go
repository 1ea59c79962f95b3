// Package errors provides structured error types for the clawdeck workflow engine.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for engine operations.
const (
	// Config errors
	CodeConfigMissingField = "CONFIG_001" // Missing required field
	CodeConfigInvalidValue = "CONFIG_002" // Invalid value

	// Workflow template errors
	CodeTemplateParseError   = "TMPL_001" // Parse error
	CodeTemplateMissingField = "TMPL_002" // Validation error - missing field
	CodeTemplateNotFound     = "TMPL_004" // Template not found
	CodeTemplateInvalid      = "TMPL_005" // Validation error - inconsistent definition

	// Lookup errors
	CodeRunNotFound   = "NOT_FOUND_RUN"
	CodeStepNotFound  = "NOT_FOUND_STEP"
	CodeStoryNotFound = "NOT_FOUND_STORY"

	// State machine errors
	CodeInvalidTransition = "TRANSITION_001" // Illegal status change, state untouched

	// Output errors
	CodeStoriesParse = "PARSE_001" // Malformed STORIES_JSON block (recoverable)

	// Input errors
	CodeInvalidArgument = "INPUT_001"

	// Store errors
	CodeStoreRead  = "STORE_001"
	CodeStoreWrite = "STORE_002"

	// Transport errors
	CodeInternal = "INTERNAL_001" // Unclassified server-side failure
)

// DeckError is the structured error type for engine operations.
type DeckError struct {
	Code    string         `json:"code"`              // Error code (e.g., "TRANSITION_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (run_id, step_id, ...)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *DeckError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DeckError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *DeckError) WithDetail(key string, value any) *DeckError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *DeckError) WithCause(err error) *DeckError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *DeckError) MarshalJSON() ([]byte, error) {
	type alias DeckError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new DeckError.
func New(code, message string) *DeckError {
	return &DeckError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new DeckError with formatted message.
func Newf(code, format string, args ...any) *DeckError {
	return &DeckError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a DeckError.
func Wrap(code, message string, err error) *DeckError {
	return &DeckError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// --- Config Errors ---

// ConfigMissingField creates an error for missing config field.
func ConfigMissingField(field string) *DeckError {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for invalid config value.
func ConfigInvalidValue(field string, value any, reason string) *DeckError {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// --- Template Errors ---

// TemplateParseError creates an error for workflow file parsing failure.
func TemplateParseError(path string, err error) *DeckError {
	return Wrap(CodeTemplateParseError, "failed to parse workflow", err).
		WithDetail("path", path)
}

// TemplateMissingField creates an error for missing template field.
func TemplateMissingField(template, field string) *DeckError {
	return Newf(CodeTemplateMissingField, "workflow %s missing required field: %s", template, field).
		WithDetail("template", template).
		WithDetail("field", field)
}

// TemplateNotFound creates an error for a missing workflow template.
func TemplateNotFound(template string) *DeckError {
	return Newf(CodeTemplateNotFound, "workflow not found: %s", template).
		WithDetail("template", template)
}

// TemplateInvalid creates an error for an inconsistent workflow definition.
func TemplateInvalid(template, reason string) *DeckError {
	return Newf(CodeTemplateInvalid, "invalid workflow %s: %s", template, reason).
		WithDetail("template", template).
		WithDetail("reason", reason)
}

// --- Lookup Errors ---

// RunNotFound creates an error for an unknown run.
func RunNotFound(runID string) *DeckError {
	return Newf(CodeRunNotFound, "run not found: %s", runID).
		WithDetail("run_id", runID)
}

// StepNotFound creates an error for an unknown step.
func StepNotFound(stepID string) *DeckError {
	return Newf(CodeStepNotFound, "step not found: %s", stepID).
		WithDetail("step_id", stepID)
}

// StoryNotFound creates an error for an unknown story.
func StoryNotFound(storyID string) *DeckError {
	return Newf(CodeStoryNotFound, "story not found: %s", storyID).
		WithDetail("story_id", storyID)
}

// --- State Machine Errors ---

// InvalidTransition creates an error for an illegal status change.
func InvalidTransition(kind, id, from, to string) *DeckError {
	return Newf(CodeInvalidTransition, "invalid status transition for %s %s: %s -> %s", kind, id, from, to).
		WithDetail("kind", kind).
		WithDetail("id", id).
		WithDetail("from", from).
		WithDetail("to", to)
}

// RunNotActive creates an error for work on a run that is no longer running.
func RunNotActive(runID, status string) *DeckError {
	return Newf(CodeInvalidTransition, "run %s is %s", runID, status).
		WithDetail("run_id", runID).
		WithDetail("status", status)
}

// --- Output Errors ---

// StoriesParseError creates the recoverable error for a malformed STORIES_JSON block.
func StoriesParseError(err error) *DeckError {
	return Wrap(CodeStoriesParse, "malformed STORIES_JSON block", err)
}

// --- Input Errors ---

// InvalidArgument creates an error for a rejected caller input.
func InvalidArgument(field, reason string) *DeckError {
	return Newf(CodeInvalidArgument, "invalid %s: %s", field, reason).
		WithDetail("field", field)
}

// --- Store Errors ---

// StoreRead creates an error for a failed persistence read.
func StoreRead(path string, err error) *DeckError {
	return Wrap(CodeStoreRead, "failed to read store", err).
		WithDetail("path", path)
}

// StoreWrite creates an error for a failed persistence write.
func StoreWrite(path string, err error) *DeckError {
	return Wrap(CodeStoreWrite, "failed to write store", err).
		WithDetail("path", path)
}

// Internal wraps an unclassified error for a transport response.
func Internal(err error) *DeckError {
	return Wrap(CodeInternal, "internal error", err)
}

// HasCode checks if an error is a DeckError with the given code.
// It handles wrapped errors by unwrapping to find a DeckError.
func HasCode(err error, code string) bool {
	var derr *DeckError
	if errors.As(err, &derr) {
		return derr.Code == code
	}
	return false
}

// Code returns the error code if err is a DeckError, empty string otherwise.
func Code(err error) string {
	var derr *DeckError
	if errors.As(err, &derr) {
		return derr.Code
	}
	return ""
}

// IsNotFound reports whether err is any of the lookup errors.
func IsNotFound(err error) bool {
	switch Code(err) {
	case CodeRunNotFound, CodeStepNotFound, CodeStoryNotFound, CodeTemplateNotFound:
		return true
	}
	return false
}
