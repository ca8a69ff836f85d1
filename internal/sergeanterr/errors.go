// Package sergeanterr defines the error taxonomy shared by the coordination
// kernel's services: validation errors, not-found errors, and state
// conflicts, all of which are reported back to callers as structured
// results rather than propagated as panics or bare errors. Race losses and
// transient I/O failures use plain wrapped errors since they are either
// retried silently (race loss) or surfaced with context via %w (transient).
package sergeanterr

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed or missing input. No state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation constructs a ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError indicates the target entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NotFound constructs a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError indicates the target entity is in a state that forbids the
// requested transition.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// Conflict constructs a ConflictError.
func Conflict(entity, id, reason string) error {
	return &ConflictError{Entity: entity, ID: id, Reason: reason}
}

// ErrRaceLost is returned internally when an atomic claim's conditional
// update affected zero rows. It never escapes the dispatcher's retry loop.
var ErrRaceLost = errors.New("claim lost the race")

// IsValidation reports whether err (or a wrapped cause) is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err (or a wrapped cause) is a NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsConflict reports whether err (or a wrapped cause) is a ConflictError.
func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}
