package service

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks by callers.
var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

// Validation reasons.
const (
	ReasonBadFormat          = "bad-format"
	ReasonMissingParticipant = "missing-participant"
	ReasonMissingEntry       = "missing-entry"
)

// Conflict reasons.
const (
	ReasonAlreadyVoted = "already-voted"
	ReasonNotVoted     = "not-voted"
	ReasonNotActive    = "not-active"
)

// Kind names one class of the error taxonomy.
type Kind string

const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindDependency Kind = "dependency"
	KindStore      Kind = "store"
)

// ValidationError rejects malformed input. Not retryable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// ConflictError reports a request that changed nothing: a duplicate or
// missing vote, or a stale advancement signal.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// DependencyError wraps a metadata collaborator failure. It is logged,
// never returned from Submit.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. The operation may not have
// applied.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func notFound(id string) error {
	return fmt.Errorf("entry %s: %w", id, ErrNotFound)
}

// KindOf classifies err for transport mapping. Unknown errors are
// reported as KindStore.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		ve *ValidationError
		de *DependencyError
		se *StoreError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &de):
		return KindDependency
	case errors.As(err, &se):
		return KindStore
	}
	return KindStore
}
