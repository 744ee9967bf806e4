package biz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is the root of every input error. Callers can test any of the
// errors below with errors.Is(err, ErrValidation).
var ErrValidation = errors.New("validation error")

var (
	ErrPhaseNotFound    = fmt.Errorf("%w: phase not found", ErrValidation)
	ErrWorkflowNotFound = fmt.Errorf("%w: workflow not found", ErrValidation)
	ErrWorkflowExists   = fmt.Errorf("%w: workflow already exists for client", ErrValidation)
	ErrInvalidProfile   = fmt.Errorf("%w: invalid client profile", ErrValidation)
	ErrInvalidDraft     = fmt.Errorf("%w: invalid audit event", ErrValidation)
	ErrInvalidFormat    = fmt.Errorf("%w: unsupported export format", ErrValidation)
)

// CollaboratorError is a failed call to an external collaborator (record
// store, notifier, predictor, calendar, broadcaster).
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func collabErr(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

// IntegrityError reports a broken audit chain. It is never repaired.
type IntegrityError struct {
	// BrokenAt lists the ids of the first tampered event and every event after it.
	BrokenAt []string
}

func (e *IntegrityError) Error() string {
	if len(e.BrokenAt) == 0 {
		return "audit chain integrity violated"
	}
	return fmt.Sprintf("audit chain integrity violated at %s (%d events affected)", e.BrokenAt[0], len(e.BrokenAt))
}

// PersistenceError reports an audit batch that could not be written after
// all retries. The batch stays queued.
type PersistenceError struct {
	Attempts int
	Pending  int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit persistence failed after %d attempts (%d events pending): %v", e.Attempts, e.Pending, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// fieldErrors collects validation problems into one ErrValidation-wrapped error.
type fieldErrors []string

func (f *fieldErrors) add(format string, args ...any) {
	*f = append(*f, fmt.Sprintf(format, args...))
}

func (f fieldErrors) err(base error) error {
	if len(f) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", base, strings.Join(f, "; "))
}
