// Package errors provides structured error types for clonectl.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	// Planning-time codes. These are always fatal and never retried.
	ErrCodeUnresolvedVariable      ErrorCode = "UNRESOLVED_VARIABLE"
	ErrCodeCyclicDependency        ErrorCode = "CYCLIC_DEPENDENCY"
	ErrCodeUnsatisfiableDependency ErrorCode = "UNSATISFIABLE_DEPENDENCY"
	ErrCodeValidation              ErrorCode = "VALIDATION_ERROR"
	ErrCodeParse                   ErrorCode = "PARSE_ERROR"

	// Execution-time codes.
	ErrCodeTransient           ErrorCode = "TRANSIENT_EXECUTION_FAILURE"
	ErrCodePermanent           ErrorCode = "PERMANENT_EXECUTION_FAILURE"
	ErrCodeTargetAlreadyExists ErrorCode = "TARGET_ALREADY_EXISTS"
	ErrCodeAuditWriteFailed    ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeCancelled           ErrorCode = "CANCELLED"
	ErrCodeTimeout             ErrorCode = "TIMEOUT"
	ErrCodePermission          ErrorCode = "PERMISSION_DENIED"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"

	// Infrastructure codes.
	ErrCodeBackend ErrorCode = "BACKEND_ERROR"
	ErrCodeLocked  ErrorCode = "LOCKED"
)

// Error is the base error type for clonectl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// ValidationError creates a validation error
func ValidationError(message string, details map[string]interface{}) *Error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// UnresolvedVariable reports a ${NAME} placeholder left after substitution.
func UnresolvedVariable(placeholder, path string) *Error {
	return &Error{
		Code:    ErrCodeUnresolvedVariable,
		Message: fmt.Sprintf("unresolved variable %s at %s", placeholder, path),
		Details: map[string]interface{}{
			"placeholder": placeholder,
			"path":        path,
		},
	}
}

// CyclicDependency reports a cycle; the cycle is listed with its first node repeated at the end.
func CyclicDependency(cycle []string) *Error {
	return &Error{
		Code:    ErrCodeCyclicDependency,
		Message: fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")),
		Details: map[string]interface{}{
			"cycle": cycle,
		},
	}
}

// UnsatisfiableDependency reports an operation whose prerequisite is neither requested nor known to exist.
func UnsatisfiableDependency(operation, requirement string) *Error {
	return &Error{
		Code:    ErrCodeUnsatisfiableDependency,
		Message: fmt.Sprintf("%s requires %s, which is neither planned nor declared as existing", operation, requirement),
		Details: map[string]interface{}{
			"operation":   operation,
			"requirement": requirement,
		},
	}
}

// TargetAlreadyExists reports a clone whose target name is taken.
func TargetAlreadyExists(target string, cause error) *Error {
	return &Error{
		Code:    ErrCodeTargetAlreadyExists,
		Message: fmt.Sprintf("clone target %s already exists", target),
		Cause:   cause,
		Details: map[string]interface{}{
			"target": target,
		},
	}
}

// AuditWriteFailed reports a record that could not be persisted.
func AuditWriteFailed(recordID string, err error) *Error {
	return &Error{
		Code:    ErrCodeAuditWriteFailed,
		Message: fmt.Sprintf("failed to persist audit record %s", recordID),
		Cause:   err,
		Details: map[string]interface{}{
			"record_id": recordID,
		},
	}
}

// LockInfo contains metadata about a lock
type LockInfo struct {
	ID        string
	Path      string
	Who       string
	Operation string
	Created   time.Time
}

// Locked creates a lock contention error
func Locked(lockInfo LockInfo) *Error {
	return &Error{
		Code:    ErrCodeLocked,
		Message: fmt.Sprintf("%s is locked by %s", lockInfo.Path, lockInfo.Who),
		Details: map[string]interface{}{
			"lock_id":   lockInfo.ID,
			"locked_by": lockInfo.Who,
			"operation": lockInfo.Operation,
			"created":   lockInfo.Created,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// Is checks if the error, or any error it wraps, carries the given code
func Is(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// CodeOf returns the code of the outermost *Error in the chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
