package engine

import (
	"errors"
	"fmt"

	"github.com/pullquiz/pullquiz/pkg/models"
)

// Engine-level sentinel errors surfaced through the control API.
var (
	// ErrSessionNotFound means no runtime state exists for the session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyInitialized means init was called twice for a session.
	ErrAlreadyInitialized = errors.New("session already initialized")

	// ErrEngineStopped means the engine's run loop has exited.
	ErrEngineStopped = errors.New("engine stopped")
)

// protocolError carries a protocol error code to the originating client.
// It never crosses the actor boundary as a Go error; the router turns it
// into an ERROR event.
type protocolError struct {
	Code    string
	Message string
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func protoErr(code, format string, args ...any) *protocolError {
	return &protocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func errInvalidState(phase models.Phase, action string) *protocolError {
	return protoErr(models.ErrCodeInvalidState, "%s is not allowed in phase %s", action, phase)
}
