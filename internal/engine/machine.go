package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/ledger"
)

// record is the engine-private state of one front-end transaction.
type record struct {
	id    string
	txn   ledger.Transaction
	state State

	backendIDs []backend.ID

	// previousIDs is backendIDs at the last committed point. It is taken
	// before the first destructive step of a flush and discarded once a save
	// confirms the new ids.
	previousIDs   []backend.ID
	snapshotTaken bool

	// written holds the postings sent with each Create, keyed by the id the
	// backend returned. Verify checks the backend against these.
	written map[backend.ID][]ledger.Posting

	code    ErrorCode
	message string

	// destroyed is set by a completed removal; the record is forgotten when
	// the flush settles after a successful save.
	destroyed bool

	// resetRaised is set when a connector call reported a reset during the
	// current drive.
	resetRaised bool
}

func newRecord(id string, txn ledger.Transaction) *record {
	return &record{
		id:      id,
		txn:     txn,
		state:   NoBackendExists,
		written: make(map[backend.ID][]ledger.Posting),
	}
}

func (r *record) setError(code ErrorCode, message string) {
	r.code = code
	r.message = message
}

func (r *record) clearError() {
	r.code = CodeNone
	r.message = ""
}

// clearStale drops errors that a new flush should retry. VerifyFailed waits
// for an operator.
func (r *record) clearStale() {
	switch r.code {
	case CodeOther, CodeCanNotRemove, CodeReset:
		r.clearError()
	}
}

func (r *record) takeSnapshot() {
	if r.snapshotTaken {
		return
	}
	r.previousIDs = slices.Clone(r.backendIDs)
	r.snapshotTaken = true
}

// commitSnapshot accepts the current ids as saved.
func (r *record) commitSnapshot() {
	r.previousIDs = nil
	r.snapshotTaken = false
	r.pruneWritten()
}

// savedIDs returns the ids known to be saved in the backend.
func (r *record) savedIDs() []backend.ID {
	if r.snapshotTaken {
		return r.previousIDs
	}
	return r.backendIDs
}

// restore rolls backendIDs back to the last saved point.
func (r *record) restore() {
	r.backendIDs = slices.Clone(r.savedIDs())
	r.previousIDs = nil
	r.snapshotTaken = false
	r.pruneWritten()
}

func (r *record) pruneWritten() {
	for id := range r.written {
		if !slices.Contains(r.backendIDs, id) {
			delete(r.written, id)
		}
	}
}

// Transition describes one fired rule, for observers.
type Transition struct {
	ID    string    `json:"id"`
	Rule  string    `json:"rule"`
	From  State     `json:"from"`
	To    State     `json:"to"`
	Input Input     `json:"input"`
	Code  ErrorCode `json:"code"`
}

// driver runs records through the transition table for the length of one
// flush or close.
type driver struct {
	ctx      context.Context
	conn     backend.Connector
	logger   *slog.Logger
	maxSteps int
	observe  func(Transition)
}

// drive steps r with in until no rule changes its state or error code.
func (d *driver) drive(r *record, in Input) {
	quota := NewQuotaEnforcer(d.maxSteps)
	for {
		if err := quota.Check(r.id); err != nil {
			r.setError(CodeOther, err.Error())
			d.logger.Error("drive did not settle",
				"id", r.id,
				"state", r.state,
				"steps", quota.Current(),
				"error", err)
			return
		}
		if !d.step(r, in) {
			return
		}
	}
}

// step fires the first rule of the current state whose guard matches.
// It reports whether the drive should continue.
func (d *driver) step(r *record, in Input) bool {
	for _, rl := range transitions[r.state] {
		if !rl.when(r, in) {
			continue
		}

		from, code := r.state, r.code
		if rl.do != nil && !rl.do(d, r, in) {
			d.logger.Debug("transition aborted",
				"id", r.id,
				"rule", rl.name,
				"state", r.state,
				"input", in,
				"code", r.code)
			return r.code != code
		}
		if r.destroyed {
			d.emit(r, rl.name, from, in)
			return false
		}

		r.state = rl.next
		d.emit(r, rl.name, from, in)
		return r.state != from || r.code != code
	}
	return false
}

func (d *driver) emit(r *record, rule string, from State, in Input) {
	d.logger.Debug("transition",
		"id", r.id,
		"rule", rule,
		"from", from,
		"to", r.state,
		"input", in,
		"code", r.code)
	if d.observe != nil {
		d.observe(Transition{
			ID:    r.id,
			Rule:  rule,
			From:  from,
			To:    r.state,
			Input: in,
			Code:  r.code,
		})
	}
}

// fail records a connector failure on r. Resets win over the fallback code.
func (d *driver) fail(r *record, op string, err error, fallback ErrorCode) {
	if backend.IsReset(err) {
		r.setError(CodeReset, err.Error())
		r.resetRaised = true
	} else {
		r.setError(fallback, err.Error())
	}
	d.logger.Warn("backend call failed",
		"id", r.id,
		"op", op,
		"code", r.code,
		"error", err)
}

func actCreate(d *driver, r *record, _ Input) bool {
	postings, err := ledger.Collect(r.txn)
	if err != nil {
		r.setError(CodeOther, err.Error())
		d.logger.Warn("transaction not representable", "id", r.id, "error", err)
		return false
	}

	id, err := d.conn.Create(d.ctx, postings)
	if err != nil {
		d.fail(r, "create", err, CodeOther)
		return false
	}

	r.backendIDs = append(r.backendIDs, id)
	r.written[id] = postings
	return true
}

// actVerify checks every backend id. The transition always proceeds; the
// next state routes whatever error was recorded.
func actVerify(d *driver, r *record, _ Input) bool {
	for _, id := range r.backendIDs {
		ok, err := d.conn.Verify(d.ctx, id, r.written[id])
		if err != nil {
			d.fail(r, "verify", err, CodeOther)
			return true
		}
		if !ok {
			r.setError(CodeVerifyFailed, fmt.Sprintf("backend transaction %s was modified outside this ledger", id))
			d.logger.Warn("verification failed", "id", r.id, "backend_id", id)
			return true
		}
	}
	return true
}

// actRemove removes backend ids front to back. Ids that could not be removed
// are kept.
func actRemove(d *driver, r *record, _ Input) bool {
	for len(r.backendIDs) > 0 {
		id := r.backendIDs[0]
		err := d.conn.Remove(d.ctx, id)
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			d.fail(r, "remove", err, CodeCanNotRemove)
			return false
		}
		if err != nil {
			d.logger.Warn("backend transaction already gone", "id", r.id, "backend_id", id)
		}
		r.backendIDs = r.backendIDs[1:]
	}
	return true
}

func actRestore(_ *driver, r *record, _ Input) bool {
	r.restore()
	return true
}

func actCommit(_ *driver, r *record, _ Input) bool {
	r.commitSnapshot()
	return true
}

func actClearError(_ *driver, r *record, _ Input) bool {
	r.clearError()
	return true
}

func actForget(_ *driver, r *record, _ Input) bool {
	r.destroyed = true
	return true
}
