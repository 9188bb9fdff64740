package pipeline

import (
	"errors"
	"fmt"
)

// The pipeline distinguishes four failure classes. Collaborator and malformed
// response errors are recoverable: the stage that sees one substitutes its
// fallback payload and the run continues. Validation errors abort before any
// stage runs. Everything else a stage returns is fatal and produces exactly
// one terminal error event.

// CollaboratorError is a failed call to an external collaborator (LLM,
// embedding engine, store, enrichment service).
type CollaboratorError struct {
	Source string
	Err    error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s failed: %v", e.Source, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// MalformedResponseError is a structured LLM response that did not parse into
// the expected shape.
type MalformedResponseError struct {
	Operation string
	Raw       string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Operation, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ValidationError is a rejected input alert. No stages run.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid alert: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FatalError aborts the run.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error in %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Recoverable reports whether a stage may continue past the error with a
// fallback payload.
func Recoverable(err error) bool {
	var ce *CollaboratorError
	var me *MalformedResponseError
	return errors.As(err, &ce) || errors.As(err, &me)
}
