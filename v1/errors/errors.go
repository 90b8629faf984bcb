// Package errors defines the sentinel errors shared by every tasklock package.
// Callers match them with errors.Is; backends wrap or translate their own
// failures into these values so that no storage or transport detail leaks
// past the service layer.
package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotFound reports an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrLocked reports that the task is locked by another user, or that a
	// conditional write lost a race against another writer.
	ErrLocked = errors.New("task is currently being edited by another user")
	// ErrAuthInvalid reports a missing, malformed or rejected credential.
	ErrAuthInvalid = errors.New("invalid or expired credential")
	// ErrTransport reports a write to a push connection that is gone.
	ErrTransport = errors.New("transport error")
	// ErrInvalidInput reports task data that fails the record rules.
	ErrInvalidInput = errors.New("invalid input")
)
