package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for validation failures.
var (
	ErrQuestionTooShort = errors.New("question too short")
	ErrQuestionTooLong  = errors.New("question too long")
	ErrQueryInjection   = errors.New("question contains suspicious content")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ErrorKind labels a failure for callers, metrics and the FAILED state.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidation        ErrorKind = "validation"
	KindUnparseableQuery  ErrorKind = "unparseable_query"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindGenerationTimeout ErrorKind = "generation_timeout"
	KindGenerationService ErrorKind = "generation_service"
	KindCanceled          ErrorKind = "canceled"
	KindPipelineFatal     ErrorKind = "pipeline_fatal"
)

// UnparseableQueryError means neither a structured filter nor a semantic
// residual could be extracted from the question.
type UnparseableQueryError struct {
	Question string
}

func (e *UnparseableQueryError) Error() string {
	return fmt.Sprintf("unparseable query %q", e.Question)
}

// StoreUnavailableError means a backing store stayed unreachable after the
// retry policy was exhausted.
type StoreUnavailableError struct {
	Store    string
	Attempts int
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store %s unavailable after %d attempt(s): %v", e.Store, e.Attempts, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// GenerationTimeoutError means the generation service did not answer in time.
type GenerationTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *GenerationTimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %s: %v", e.Timeout, e.Err)
}

func (e *GenerationTimeoutError) Unwrap() error { return e.Err }

// GenerationServiceError means the generation service failed or returned
// nothing usable.
type GenerationServiceError struct {
	Err error
}

func (e *GenerationServiceError) Error() string {
	return fmt.Sprintf("generation service: %v", e.Err)
}

func (e *GenerationServiceError) Unwrap() error { return e.Err }

// PipelineFatalError is surfaced to the caller with the last state the query
// reached before failing.
type PipelineFatalError struct {
	State State
	Kind  ErrorKind
	Err   error
}

func (e *PipelineFatalError) Error() string {
	return fmt.Sprintf("pipeline failed in state %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *PipelineFatalError) Unwrap() error { return e.Err }

// KindOf classifies err. Unknown errors are fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		fatal   *PipelineFatalError
		valErr  *ValidationError
		unparse *UnparseableQueryError
		store   *StoreUnavailableError
		genTime *GenerationTimeoutError
		genSvc  *GenerationServiceError
	)
	switch {
	case errors.As(err, &fatal):
		return fatal.Kind
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &unparse):
		return KindUnparseableQuery
	case errors.As(err, &store):
		return KindStoreUnavailable
	case errors.As(err, &genTime):
		return KindGenerationTimeout
	case errors.As(err, &genSvc):
		return KindGenerationService
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindPipelineFatal
}
