package engine

import (
	"errors"
	"fmt"
)

// Error is a contract violation reported synchronously by an Engine method.
// Backend failures never surface as Error; they are recorded per transaction
// and read back through ReasonDirty.
type Error struct {
	// Code identifies the error category.
	Code ErrCode

	// ID is the front-end id involved, if any.
	ID string

	// Message is a human-readable description.
	Message string
}

// ErrCode categorizes contract errors.
type ErrCode string

const (
	// ErrCodeUnknownID indicates the id was never marked dirty or has been forgotten.
	ErrCodeUnknownID ErrCode = "UNKNOWN_ID"

	// ErrCodeInvalidState indicates the operation is not allowed in the id's current state.
	ErrCodeInvalidState ErrCode = "INVALID_STATE"

	// ErrCodeConflictingTransaction indicates the id is bound to a different transaction.
	ErrCodeConflictingTransaction ErrCode = "CONFLICTING_TRANSACTION"

	// ErrCodePendingCommand indicates a different command is waiting for the next flush.
	ErrCodePendingCommand ErrCode = "PENDING_COMMAND"

	// ErrCodeNotDirty indicates ReasonDirty was asked about a clean id.
	ErrCodeNotDirty ErrCode = "NOT_DIRTY"

	// ErrCodeClosed indicates the engine was closed.
	ErrCodeClosed ErrCode = "CLOSED"

	// ErrCodeReadOnly indicates the connector cannot write.
	ErrCodeReadOnly ErrCode = "READ_ONLY"

	// ErrCodeInvalidSnapshot indicates a snapshot could not be restored.
	ErrCodeInvalidSnapshot ErrCode = "INVALID_SNAPSHOT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s (id=%s)", e.Code, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrCode, id, format string, args ...any) *Error {
	return &Error{Code: code, ID: id, Message: fmt.Sprintf(format, args...)}
}

func errUnknownID(id string) *Error {
	return newError(ErrCodeUnknownID, id, "unknown id")
}

func errClosed() *Error {
	return newError(ErrCodeClosed, "", "engine is closed")
}

func hasCode(err error, code ErrCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsUnknownID reports whether err is an unknown-id error.
func IsUnknownID(err error) bool { return hasCode(err, ErrCodeUnknownID) }

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool { return hasCode(err, ErrCodeInvalidState) }

// IsConflictingTransaction reports whether err is a conflicting-transaction error.
func IsConflictingTransaction(err error) bool { return hasCode(err, ErrCodeConflictingTransaction) }

// IsPendingCommand reports whether err is a pending-command error.
func IsPendingCommand(err error) bool { return hasCode(err, ErrCodePendingCommand) }

// IsNotDirty reports whether err is a not-dirty error.
func IsNotDirty(err error) bool { return hasCode(err, ErrCodeNotDirty) }

// IsClosed reports whether err is a closed-engine error.
func IsClosed(err error) bool { return hasCode(err, ErrCodeClosed) }

// IsReadOnly reports whether err is a read-only error.
func IsReadOnly(err error) bool { return hasCode(err, ErrCodeReadOnly) }

// IsInvalidSnapshot reports whether err is an invalid-snapshot error.
func IsInvalidSnapshot(err error) bool { return hasCode(err, ErrCodeInvalidSnapshot) }
