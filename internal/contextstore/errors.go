package contextstore

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an expected, recoverable resource failure. These are
// branch points for callers, not fatal conditions.
type ErrorCode string

const (
	// CodeContextNotFound indicates the entity id has no live context.
	CodeContextNotFound ErrorCode = "context-not-found"
	// CodeInvalidConstraints indicates constraints failed validation.
	CodeInvalidConstraints ErrorCode = "invalid-constraints"
	// CodeInvalidMessage indicates a message failed validation.
	CodeInvalidMessage ErrorCode = "invalid-message"
	// CodeMessageTooLarge indicates a single message exceeds the window.
	CodeMessageTooLarge ErrorCode = "message-too-large"
	// CodeResourceExhausted indicates the token budget cannot admit the
	// message.
	CodeResourceExhausted ErrorCode = "resource-exhausted"
	// CodeCleanupFailed indicates cleanup was requested for an unknown id.
	CodeCleanupFailed ErrorCode = "cleanup-failed"
)

// ResourceError is a coded, expected failure from the context store.
type ResourceError struct {
	// Code tags the failure kind.
	Code ErrorCode
	// EntityID is the affected entity, when known.
	EntityID string
	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.EntityID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is supports errors.Is matching on the code via template errors.
func (e *ResourceError) Is(target error) bool {
	var re *ResourceError
	if errors.As(target, &re) {
		return re.Code == e.Code
	}
	return false
}

// newResourceError builds a coded error.
func newResourceError(code ErrorCode, entityID, format string, args ...any) *ResourceError {
	return &ResourceError{Code: code, EntityID: entityID, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the resource error code, or empty when err is not a
// ResourceError.
func CodeOf(err error) ErrorCode {
	var re *ResourceError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
