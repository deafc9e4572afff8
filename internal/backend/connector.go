// Package backend defines the contract between the reconciliation engine and
// an external double-entry ledger.
//
// A Connector buffers writes until Save. Failures come in two kinds:
//
//   - *Error: the operation failed, nothing else was lost; retry later.
//   - *ResetError: the backend lost every write buffered since the last
//     successful Save.
//
// Any other error value returned by a connector is treated like *Error.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/ledgersync/internal/ledger"
)

// ID identifies a transaction inside the backend. IDs are assigned by the
// connector and are opaque to the engine.
type ID string

// Connector performs the remote operations of one backend session.
// Implementations need not be safe for concurrent use; the engine calls them
// sequentially.
type Connector interface {
	// CanWrite reports whether the session accepts writes at all.
	CanWrite() bool

	// Create writes a new backend transaction holding postings.
	Create(ctx context.Context, postings []ledger.Posting) (ID, error)

	// Remove deletes a backend transaction.
	Remove(ctx context.Context, id ID) error

	// Verify reports whether the backend transaction still holds postings.
	Verify(ctx context.Context, id ID, postings []ledger.Posting) (bool, error)

	// Save commits every buffered write.
	Save(ctx context.Context) error
}

// AlwaysVerified can be embedded by connectors that have no way to check
// their data; Verify then always succeeds.
type AlwaysVerified struct{}

// Verify always returns true.
func (AlwaysVerified) Verify(context.Context, ID, []ledger.Posting) (bool, error) {
	return true, nil
}

// Error is a non-fatal, retryable backend failure.
type Error struct {
	Op  string
	ID  ID
	Err error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("backend %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error for op.
func NewError(op string, id ID, err error) *Error {
	return &Error{Op: op, ID: id, Err: err}
}

// ResetError reports that the backend lost its uncommitted writes.
type ResetError struct {
	Op  string
	Err error
}

func (e *ResetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend reset during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend reset during %s", e.Op)
}

func (e *ResetError) Unwrap() error {
	return e.Err
}

// NewResetError creates a ResetError for op.
func NewResetError(op string, err error) *ResetError {
	return &ResetError{Op: op, Err: err}
}

// ErrNotFound is wrapped by connectors when an ID does not exist.
var ErrNotFound = errors.New("backend transaction not found")

// IsReset returns true if err is or wraps a ResetError.
func IsReset(err error) bool {
	var re *ResetError
	return errors.As(err, &re)
}
