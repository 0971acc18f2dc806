package finhop

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeDecomposition = "DECOMPOSITION_ERROR"
	ErrCodeCycle         = "CYCLE_DETECTED"
	ErrCodeSubQuery      = "SUBQUERY_EXECUTION_ERROR"
	ErrCodeEmptyChain    = "EMPTY_CHAIN_ERROR"
	ErrCodeCache         = "CACHE_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeCancelled     = "EXECUTION_CANCELLED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// Error is the coded error type crossing finhop component boundaries.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeCycle)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "decomposition", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new coded Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsError reports whether err is (or wraps) a finhop coded error.
func IsError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

// CodeOf returns the code of the coded error wrapped in err, or "" if there
// is none.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewDecompositionError(query string, cause error) *Error {
	return NewError(ErrCodeDecomposition, "decomposition", fmt.Sprintf("no recognizable financial pattern in query %q", query), cause)
}

func NewCycleError(cause error) *Error {
	return NewError(ErrCodeCycle, "validation", "dependency graph contains a cycle", cause)
}

func NewSubQueryError(id, metric string, cause error) *Error {
	return NewError(ErrCodeSubQuery, "execution", fmt.Sprintf("sub-query %q (metric %q) failed", id, metric), cause)
}

func NewEmptyChainError() *Error {
	return NewError(ErrCodeEmptyChain, "chain", "reasoning chain has no steps", nil)
}

func NewCacheError(operation string, cause error) *Error {
	return NewError(ErrCodeCache, "execution", fmt.Sprintf("cache operation %q failed", operation), cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}
