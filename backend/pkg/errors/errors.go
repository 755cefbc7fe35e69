package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeIdentity represents identity resolution conflicts
	ErrorTypeIdentity ErrorType = "identity"
	// ErrorTypeFetch represents upstream fetch collaborator failures
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeGraph represents graph store consistency errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeStore represents snapshot persistence errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Identity Errors

// ErrIdentityAmbiguous is raised when an incoming record plausibly matches
// two different canonical persons. The exact-key match always wins.
type ErrIdentityAmbiguous struct {
	*BaseError
	RecordKey string
	ExactID   string
	FuzzyID   string
}

func NewIdentityAmbiguous(recordKey, exactID, fuzzyID string) *ErrIdentityAmbiguous {
	return &ErrIdentityAmbiguous{
		BaseError: NewBaseError(ErrorTypeIdentity,
			fmt.Sprintf("record %s matches %s exactly and %s fuzzily", recordKey, exactID, fuzzyID), nil),
		RecordKey: recordKey,
		ExactID:   exactID,
		FuzzyID:   fuzzyID,
	}
}

// Fetch Errors

// ErrFetchFailure is returned when the fetch collaborator fails or times out
// for one person. Never fatal to an expansion round.
type ErrFetchFailure struct {
	*BaseError
	PersonID string
}

func NewFetchFailure(personID string, err error) *ErrFetchFailure {
	return &ErrFetchFailure{
		BaseError: NewBaseError(ErrorTypeFetch, fmt.Sprintf("failed to fetch neighbors of %s", personID), err),
		PersonID:  personID,
	}
}

// Graph Errors

// ErrGraphInconsistency is returned when a mutation would break a graph
// invariant, e.g. an edge to a node that does not exist.
type ErrGraphInconsistency struct {
	*BaseError
	Operation string
	Detail    string
}

func NewGraphInconsistency(operation, detail string) *ErrGraphInconsistency {
	return &ErrGraphInconsistency{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("graph inconsistency in %s: %s", operation, detail), nil),
		Operation: operation,
		Detail:    detail,
	}
}

// Config Errors

// ErrConfigInvalid is returned when configuration validation fails
type ErrConfigInvalid struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigInvalid(field, reason string) *ErrConfigInvalid {
	return &ErrConfigInvalid{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("invalid config: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Store Errors

// ErrSnapshotNotFound is returned when no snapshot exists for a key
type ErrSnapshotNotFound struct {
	*BaseError
	Key string
}

func NewSnapshotNotFound(key string) *ErrSnapshotNotFound {
	return &ErrSnapshotNotFound{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("snapshot not found: %s", key), nil),
		Key:       key,
	}
}

// ErrStoreFailed is returned when a snapshot store operation fails
type ErrStoreFailed struct {
	*BaseError
	Operation string
}

func NewStoreFailed(operation string, err error) *ErrStoreFailed {
	return &ErrStoreFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("store operation failed: %s", operation), err),
		Operation: operation,
	}
}

// Context Errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Helper functions

type typed interface {
	errorType() ErrorType
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// IsErrorType checks if an error, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := err.(typed); ok && t.errorType() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsSnapshotNotFound reports whether err is a missing snapshot
func IsSnapshotNotFound(err error) bool {
	var nf *ErrSnapshotNotFound
	return stderrors.As(err, &nf)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeConfig) || IsErrorType(err, ErrorTypeGraph) {
		return false
	}
	if IsSnapshotNotFound(err) {
		return false
	}
	return IsErrorType(err, ErrorTypeFetch) || IsErrorType(err, ErrorTypeStore) || IsErrorType(err, ErrorTypeContext)
}
