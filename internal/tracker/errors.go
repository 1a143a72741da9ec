// Package tracker implements the issue lifecycle core: project creation
// with status seeding, per-project issue numbering, status transitions
// with closed_at bookkeeping, and assignee/tag management. All state
// lives in the injected store; the package holds no cross-call locks.
package tracker

import (
	"errors"
	"fmt"
)

// ValidationError reports input that fails shape checks (empty or
// oversized names and titles). Always safe to surface to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a uniqueness violation (duplicate project, tag,
// or status name) or a refused delete of a still-referenced row.
type ConflictError struct {
	Kind string
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists or is still in use", e.Kind, e.Name)
}

// NotFoundError reports that a referenced entity does not exist or does
// not belong to the expected parent.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// PolicyError reports an operation refused by a project-level invariant,
// e.g. creating an issue in a project with no OPEN status.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

// StoreError wraps a persistence failure that is not one of the
// recoverable kinds above. Transient lock conflicts are retried before
// one of these is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsPolicy reports whether err is a PolicyError.
func IsPolicy(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
