package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the mesh.
type ErrorCode string

// Capacity error codes. Recoverable by retrying later or relaxing requirements.
const (
	ErrRegistryFull     ErrorCode = "REGISTRY_FULL"
	ErrNoCandidate      ErrorCode = "NO_CANDIDATE"
	ErrLoadShedding     ErrorCode = "LOAD_SHEDDING"
	ErrTargetOverloaded ErrorCode = "TARGET_OVERLOADED"
	ErrNoAgents         ErrorCode = "NO_AGENTS"
)

// Protocol error codes
const (
	ErrDelegationTimeout   ErrorCode = "DELEGATION_TIMEOUT"
	ErrDelegationRejected  ErrorCode = "DELEGATION_REJECTED"
	ErrDelegationCancelled ErrorCode = "DELEGATION_CANCELLED"
	ErrPeerDisconnected    ErrorCode = "PEER_DISCONNECTED"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrInvalidMessage      ErrorCode = "INVALID_MESSAGE"
	ErrSendFailed          ErrorCode = "SEND_FAILED"
)

// Execution error codes
const (
	ErrExecutionFailed ErrorCode = "EXECUTION_FAILED"
	ErrSkillNotFound   ErrorCode = "SKILL_NOT_FOUND"
)

// Configuration error codes
const (
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// ErrorCategory groups error codes by how a caller should react to them.
type ErrorCategory string

const (
	CategoryCapacity      ErrorCategory = "capacity"
	CategoryProtocol      ErrorCategory = "protocol"
	CategoryExecution     ErrorCategory = "execution"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryUnknown       ErrorCategory = "unknown"
)

// CategoryOf returns the category an error code belongs to.
func CategoryOf(code ErrorCode) ErrorCategory {
	switch code {
	case ErrRegistryFull, ErrNoCandidate, ErrLoadShedding, ErrTargetOverloaded, ErrNoAgents:
		return CategoryCapacity
	case ErrDelegationTimeout, ErrDelegationRejected, ErrDelegationCancelled,
		ErrPeerDisconnected, ErrTimeout, ErrInvalidMessage, ErrSendFailed:
		return CategoryProtocol
	case ErrExecutionFailed, ErrSkillNotFound:
		return CategoryExecution
	case ErrInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryUnknown
	}
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Peer      string    `json:"peer,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the category of the error code.
func (e *Error) Category() ErrorCategory {
	return CategoryOf(e.Code)
}

// NewError creates a new Error with the given code and message.
// Capacity errors are retryable by default.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: CategoryOf(code) == CategoryCapacity}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithPeer records the peer the error relates to.
func (e *Error) WithPeer(peer string) *Error {
	e.Peer = peer
	return e
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether the outermost *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
