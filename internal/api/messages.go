// Package api exposes the engine over HTTP and provides a typed client.
//
// Bodies are JSON. Failures are answered with an ErrorResponse whose status
// is derived from the error code: lookups map to 404, invalid transitions
// to 409, rejected input to 400 and everything else to 500.
package api

import (
	"errors"
	"net/http"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// ProtocolVersion is reported by the health endpoint.
const ProtocolVersion = "v1"

// ClaimRequest asks for work on behalf of an agent.
type ClaimRequest struct {
	AgentID string `json:"agent_id"`
}

// CompleteRequest reports the output of a claimed step.
type CompleteRequest struct {
	Output string `json:"output"`
}

// FailRequest reports a failed attempt.
type FailRequest struct {
	Error string `json:"error"`
}

// RejectRequest declines an approval step.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// CreateRunRequest instantiates a workflow.
type CreateRunRequest struct {
	TemplateID string            `json:"template_id"`
	Task       string            `json:"task"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// CreateStoriesRequest declares the stories of a run.
type CreateStoriesRequest struct {
	Stories []types.StoryInput `json:"stories"`
}

// ReapRequest triggers a sweep. Zero uses the server's threshold.
type ReapRequest struct {
	MaxAgeMinutes int `json:"max_age_minutes,omitempty"`
}

// ReapResponse reports how many steps a sweep reclaimed.
type ReapResponse struct {
	Reclaimed int `json:"reclaimed"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse wraps every failure.
type ErrorResponse struct {
	Error *deckerrors.DeckError `json:"error"`
}

// errorBody is the decoding shape of ErrorResponse; the cause travels as text.
type errorBody struct {
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
		Cause   string         `json:"cause,omitempty"`
	} `json:"error"`
}

// toDeckError rebuilds the error a server reported.
func (b errorBody) toDeckError(status int) *deckerrors.DeckError {
	if b.Error == nil || b.Error.Code == "" {
		return deckerrors.Newf(deckerrors.CodeInternal, "unexpected status %d", status)
	}
	derr := &deckerrors.DeckError{Code: b.Error.Code, Message: b.Error.Message, Details: b.Error.Details}
	if b.Error.Cause != "" {
		derr.Cause = errors.New(b.Error.Cause)
	}
	return derr
}

// StatusFor maps an error to the HTTP status it is answered with.
func StatusFor(err error) int {
	switch deckerrors.Code(err) {
	case deckerrors.CodeRunNotFound, deckerrors.CodeStepNotFound,
		deckerrors.CodeStoryNotFound, deckerrors.CodeTemplateNotFound:
		return http.StatusNotFound
	case deckerrors.CodeInvalidTransition:
		return http.StatusConflict
	case deckerrors.CodeInvalidArgument, deckerrors.CodeStoriesParse,
		deckerrors.CodeTemplateParseError, deckerrors.CodeTemplateMissingField, deckerrors.CodeTemplateInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
