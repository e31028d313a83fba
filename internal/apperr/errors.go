// Package apperr defines the closed set of errors surfaced by the identity,
// provisioning and audit services.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels returned by store implementations. Services translate them into
// the typed errors below before returning to callers.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("resource conflict")
	ErrUnsupported = errors.New("operation not supported")
	ErrValidation  = errors.New("validation failed")
	ErrDuplicate   = errors.New("duplicate")
	ErrStore       = errors.New("store failure")
)

// Store names a backing store in StoreError and ConsistencyWarning.
type Store string

const (
	StoreCredential Store = "credential"
	StoreProfile    Store = "profile"
	StoreAudit      Store = "audit"
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed or missing input. It is always raised
// before any store is touched.
type ValidationError struct {
	Fields []FieldError
}

// Invalid builds a ValidationError for one field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DuplicateError reports a unique-email violation.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q is already in use", e.Field, e.Value)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// NotFoundError reports an operation on an unknown identifier.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError is the definitive failure of an operation's primary write.
// Warnings carries the outcome of any compensation attempted on the way out.
type StoreError struct {
	Store    Store
	Op       string
	Err      error
	Warnings []ConsistencyWarning
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %s failed", e.Store, e.Op)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// ConsistencyWarning records a failed secondary step. It never changes the
// verdict of the primary operation.
type ConsistencyWarning struct {
	Step  string
	Store Store
	Err   error
}

func (w ConsistencyWarning) Error() string {
	if w.Err == nil {
		return fmt.Sprintf("%s (%s store)", w.Step, w.Store)
	}
	return fmt.Sprintf("%s (%s store): %v", w.Step, w.Store, w.Err)
}

func (w ConsistencyWarning) Unwrap() error { return w.Err }

// PartialSuccess is returned alongside a successful primary write. An empty
// warning list means every secondary step succeeded as well.
type PartialSuccess struct {
	Warnings []ConsistencyWarning
}

// Add appends a warning.
func (p *PartialSuccess) Add(w ConsistencyWarning) {
	p.Warnings = append(p.Warnings, w)
}

// Degraded reports whether any secondary step failed.
func (p PartialSuccess) Degraded() bool { return len(p.Warnings) > 0 }

// Has reports whether a warning was recorded for step.
func (p PartialSuccess) Has(step string) bool {
	for _, w := range p.Warnings {
		if w.Step == step {
			return true
		}
	}
	return false
}
