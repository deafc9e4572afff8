package engine

import (
	"log/slog"
	"reflect"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/ledger"
)

// DefaultMaxSteps is the default step quota of a single drive.
const DefaultMaxSteps = 64

// Engine owns every transaction record, the dirty and held indexes, and the
// flush protocol. It is the only component callers talk to.
//
// INVARIANTS:
//   - an id is never in both the dirty set and the held set
//   - a record with an error code is never reported clean
//   - records are only reachable through copies (Status, Snapshot)
//
// Engine is not safe for concurrent use; callers serialise access.
type Engine struct {
	conn     backend.Connector
	machines map[string]*record
	dirty    map[string]Input
	held     map[string]struct{}
	closed   bool

	clock     *Clock
	flushIDs  FlushIDGenerator
	maxSteps  int
	logger    *slog.Logger
	persister Persister
	observer  func(Transition)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the step quota of a single drive.
//
// Default: 64 steps (DefaultMaxSteps)
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPersister stores a snapshot after every Flush and Close.
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithFlushIDGenerator sets how flush ids are generated. Default: UUIDv7.
func WithFlushIDGenerator(gen FlushIDGenerator) Option {
	return func(e *Engine) {
		e.flushIDs = gen
	}
}

// WithClock sets the logical clock numbering flushes.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithObserver registers a callback invoked for every fired transition.
func WithObserver(fn func(Transition)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// New creates an Engine that reconciles through conn.
func New(conn backend.Connector, opts ...Option) *Engine {
	e := &Engine{
		conn:     conn,
		machines: make(map[string]*record),
		dirty:    make(map[string]Input),
		held:     make(map[string]struct{}),
		clock:    NewClock(),
		flushIDs: UUIDv7Generator{},
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MarkDirty registers txn under id, or schedules an already known id to be
// pushed to the backend again.
func (e *Engine) MarkDirty(id string, txn ledger.Transaction) error {
	if e.closed {
		return errClosed()
	}
	if txn == nil {
		return newError(ErrCodeInvalidState, id, "no transaction")
	}

	r, ok := e.machines[id]
	if !ok {
		e.machines[id] = newRecord(id, txn)
		e.dirty[id] = Recreate
		e.logger.Debug("marked dirty", "id", id, "new", true)
		return nil
	}
	if _, held := e.held[id]; held {
		return newError(ErrCodeInvalidState, id, "transaction is held; verify or force removal first")
	}
	if !sameTransaction(r.txn, txn) {
		return newError(ErrCodeConflictingTransaction, id, "id is bound to a different transaction")
	}
	if err := e.checkReleased(r, Recreate); err != nil {
		return err
	}

	e.dirty[id] = Recreate
	e.logger.Debug("marked dirty", "id", id, "new", false)
	return nil
}

// MarkForRemoval schedules the backend copy of id for removal.
func (e *Engine) MarkForRemoval(id string) error {
	if e.closed {
		return errClosed()
	}
	r, ok := e.machines[id]
	if !ok {
		return errUnknownID(id)
	}
	if _, held := e.held[id]; held {
		return newError(ErrCodeInvalidState, id, "transaction is held; use forced removal")
	}
	if err := e.checkReleased(r, SafeRemoveRequested); err != nil {
		return err
	}
	e.dirty[id] = SafeRemoveRequested
	e.logger.Debug("marked for removal", "id", id)
	return nil
}

// MarkForVerification schedules a verify-only pass. A held id is released
// back to the dirty set.
func (e *Engine) MarkForVerification(id string) error {
	if e.closed {
		return errClosed()
	}
	if _, ok := e.machines[id]; !ok {
		return errUnknownID(id)
	}
	if cmd, pending := e.dirty[id]; pending && cmd != VerificationRequested {
		return newError(ErrCodePendingCommand, id, "%s is pending; flush first", cmd)
	}
	delete(e.held, id)
	e.dirty[id] = VerificationRequested
	e.logger.Debug("marked for verification", "id", id)
	return nil
}

// MarkForHold parks id on the next flush. Marking a held id again is a no-op.
func (e *Engine) MarkForHold(id string) error {
	if e.closed {
		return errClosed()
	}
	if _, ok := e.machines[id]; !ok {
		return errUnknownID(id)
	}
	if _, held := e.held[id]; held {
		return nil
	}
	e.dirty[id] = LeaveAloneRequested
	e.logger.Debug("marked for hold", "id", id)
	return nil
}

// MarkForForcedRemoval removes a held id without verifying the backend.
func (e *Engine) MarkForForcedRemoval(id string) error {
	if e.closed {
		return errClosed()
	}
	if _, ok := e.machines[id]; !ok {
		return errUnknownID(id)
	}
	if _, held := e.held[id]; !held {
		return newError(ErrCodeInvalidState, id, "forced removal requires a held transaction")
	}
	delete(e.held, id)
	e.dirty[id] = BlowoutRequested
	e.logger.Debug("marked for forced removal", "id", id)
	return nil
}

// checkReleased rejects cmd for a record that is still Held but was released
// by a verification or forced removal that has not been flushed yet.
func (e *Engine) checkReleased(r *record, cmd Input) error {
	if r.state != Held {
		return nil
	}
	if pending, ok := e.dirty[r.id]; ok && pending != cmd {
		return newError(ErrCodePendingCommand, r.id, "%s is pending; flush first", pending)
	}
	return nil
}

// sameTransaction compares transaction identity. Values of non-comparable
// dynamic types cannot be told apart and are accepted.
func sameTransaction(a, b ledger.Transaction) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return true
	}
	return a == b
}
