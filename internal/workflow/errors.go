package workflow

import (
	"fmt"
	"net/http"
)

// ValidationError is raised locally before any request reaches the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TransportError reports a failure reaching the approval store or a non-2xx
// response from it. StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Conflict reports whether the store refused the request because of the
// approval's current state.
func (e *TransportError) Conflict() bool {
	return e != nil && e.StatusCode == http.StatusConflict
}

// InconsistentStateError describes malformed participant data for a stage.
// Aggregation never returns it; it is attached to the affected Stage.
type InconsistentStateError struct {
	Stage  int    `json:"stage"`
	Reason string `json:"reason"`
}

func (e *InconsistentStateError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage %d: %s", e.Stage, e.Reason)
}
