package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned when a tool's collaborator is absent.
var ErrNotConfigured = errors.New("not configured")

// ErrRelayDisabled is returned by the shell tool unless the relay is
// explicitly enabled.
var ErrRelayDisabled = errors.New("relay disabled")

// ErrToolUnavailable is returned for a name that is not registered.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("unknown tool %q", e.ToolName)
}

// DispatchError is a tool failure in the form fed back to the model.
type DispatchError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s: failed (%s)", ResultPrefix, e.Tool, e.Reason)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func newDispatchError(tool string, err error) *DispatchError {
	reason := strings.Join(strings.Fields(err.Error()), " ")
	if reason == "" {
		reason = "unknown error"
	}
	return &DispatchError{Tool: tool, Reason: reason, Err: err}
}
