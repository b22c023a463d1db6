package engine

import (
	"errors"
	"fmt"
)

// ErrAccessDenied marks a cross-group access attempt.
var ErrAccessDenied = errors.New("access denied")

// ErrInvalidState marks an operation incompatible with the protocol's
// lifecycle state, e.g. a content change to a finalized protocol.
var ErrInvalidState = errors.New("cannot modify finalized protocol")

// ErrAlreadyFinalized marks a repeated finalize attempt. Finalization is
// not idempotent: the first call wins and every later call is rejected.
var ErrAlreadyFinalized = errors.New("protocol already finalized")

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func requiredField(field string) ValidationError {
	return ValidationError{Field: field, Reason: "is required"}
}

// SectionLockedError reports a write to a section present in the
// protocol's locked_sections set.
type SectionLockedError struct {
	Section string
}

func (e SectionLockedError) Error() string {
	return fmt.Sprintf("section %s is locked", e.Section)
}
