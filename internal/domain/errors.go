package domain

import (
	"errors"
	"fmt"
)

// Error is the structured error type of the reward core.
//
// Every failure that the caller must distinguish carries a Code:
//   - CONFLICT: item already assigned to the other category
//   - ORPHANED_HANDLE: picker returned a handle with no live backing record
//   - TRANSIENT_PICKER / PICKER_TIMEOUT: retryable picker failures
//   - PERSISTENCE_CORRUPTION: a stored mapping is unusable
//   - IDENTITY_RESOLUTION: a handle cannot be hashed at all
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// LogicalID identifies the affected item, when there is one.
	LogicalID LogicalID

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	ErrCodeConflict              ErrorCode = "CONFLICT"
	ErrCodeOrphanedHandle        ErrorCode = "ORPHANED_HANDLE"
	ErrCodeTransientPicker       ErrorCode = "TRANSIENT_PICKER"
	ErrCodePickerTimeout         ErrorCode = "PICKER_TIMEOUT"
	ErrCodePersistenceCorruption ErrorCode = "PERSISTENCE_CORRUPTION"
	ErrCodeIdentityResolution    ErrorCode = "IDENTITY_RESOLUTION"
	ErrCodeInvalidState          ErrorCode = "INVALID_STATE"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeMonitorRegistration   ErrorCode = "MONITOR_REGISTRATION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.LogicalID != "" {
		msg = fmt.Sprintf("%s (logical_id=%s)", msg, e.LogicalID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsConflictError returns true if err is a category conflict.
func IsConflictError(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsOrphanedHandleError returns true if err reports an orphaned handle.
func IsOrphanedHandleError(err error) bool { return hasCode(err, ErrCodeOrphanedHandle) }

// IsTransientPickerError returns true for picker failures worth one retry,
// including the bounded-window timeout.
func IsTransientPickerError(err error) bool {
	return hasCode(err, ErrCodeTransientPicker) || hasCode(err, ErrCodePickerTimeout)
}

// IsPersistenceCorruptionError returns true if err reports a corrupt mapping.
func IsPersistenceCorruptionError(err error) bool {
	return hasCode(err, ErrCodePersistenceCorruption)
}

// IsIdentityResolutionError returns true if a handle could not be resolved.
func IsIdentityResolutionError(err error) bool { return hasCode(err, ErrCodeIdentityResolution) }

// IsInvalidStateError returns true if an operation was issued in the wrong state.
func IsInvalidStateError(err error) bool { return hasCode(err, ErrCodeInvalidState) }

// IsNotFoundError returns true if the referenced item does not exist.
func IsNotFoundError(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsMonitorRegistrationError returns true if a monitor registration was refused.
func IsMonitorRegistrationError(err error) bool {
	return hasCode(err, ErrCodeMonitorRegistration)
}

// NewConflictError reports that id is assigned to existing and the caller
// asked for requested without allowing a move. The message names the item
// and both categories.
func NewConflictError(id LogicalID, label string, existing, requested Category) *Error {
	name := label
	if name == "" {
		name = string(id)
	}
	return &Error{
		Code: ErrCodeConflict,
		Message: fmt.Sprintf("%q is already assigned to %s and cannot also be assigned to %s",
			name, existing, requested),
		LogicalID: id,
		Details: map[string]string{
			"label":     name,
			"existing":  string(existing),
			"requested": string(requested),
		},
	}
}

// NewOrphanedHandleError reports a handle whose identity has no live
// assignment, typically because the item was removed.
func NewOrphanedHandleError(id LogicalID, hash HandleHash) *Error {
	return &Error{
		Code:      ErrCodeOrphanedHandle,
		Message:   "handle has no live backing record",
		LogicalID: id,
		Details:   map[string]string{"handle_hash": string(hash)},
	}
}

// NewTransientPickerError wraps a retryable picker presentation failure.
func NewTransientPickerError(cause error) *Error {
	return &Error{Code: ErrCodeTransientPicker, Message: "picker presentation failed", Err: cause}
}

// NewPickerTimeoutError reports that the picker did not answer in time.
func NewPickerTimeoutError(cause error) *Error {
	return &Error{Code: ErrCodePickerTimeout, Message: "picker did not return within the allowed window", Err: cause}
}

// NewPersistenceCorruptionError reports an unusable stored mapping.
func NewPersistenceCorruptionError(id LogicalID, msg string) *Error {
	return &Error{Code: ErrCodePersistenceCorruption, Message: msg, LogicalID: id}
}

// NewIdentityResolutionError reports a handle that cannot be resolved.
func NewIdentityResolutionError(msg string, cause error) *Error {
	return &Error{Code: ErrCodeIdentityResolution, Message: msg, Err: cause}
}

// NewInvalidStateError reports an operation issued in the wrong state.
func NewInvalidStateError(op, state string) *Error {
	return &Error{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf("%s not allowed in state %s", op, state),
		Details: map[string]string{"op": op, "state": state},
	}
}

// NewNotFoundError reports a missing item.
func NewNotFoundError(id LogicalID) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "item not found", LogicalID: id}
}

// NewMonitorRegistrationError reports a refused monitor registration.
func NewMonitorRegistrationError(scope, msg string) *Error {
	return &Error{
		Code:    ErrCodeMonitorRegistration,
		Message: msg,
		Details: map[string]string{"scope": scope},
	}
}
