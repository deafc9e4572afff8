package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/ledger"
)

// Snapshot is a deterministic copy of the whole engine state.
type Snapshot struct {
	Seq     int64            `json:"seq"`
	Records []RecordSnapshot `json:"records"`
}

// RecordSnapshot is the persisted form of one transaction record.
type RecordSnapshot struct {
	ID          string                          `json:"id"`
	State       State                           `json:"state"`
	BackendIDs  []backend.ID                    `json:"backend_ids"`
	PreviousIDs []backend.ID                    `json:"previous_ids,omitempty"`
	HasPrevious bool                            `json:"has_previous"`
	Written     map[backend.ID][]ledger.Posting `json:"written,omitempty"`
	Code        ErrorCode                       `json:"code"`
	Message     string                          `json:"message,omitempty"`
	Pending     *Input                          `json:"pending,omitempty"`
	Held        bool                            `json:"held"`
}

// Persister stores engine snapshots.
type Persister interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
}

// Resolver maps a front-end id back to its transaction when restoring.
type Resolver func(id string) (ledger.Transaction, error)

// Snapshot returns a copy of every record, ordered by id.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Seq:     e.clock.Current(),
		Records: make([]RecordSnapshot, 0, len(e.machines)),
	}
	for _, id := range e.IDs() {
		r := e.machines[id]
		rs := RecordSnapshot{
			ID:          r.id,
			State:       r.state,
			BackendIDs:  slices.Clone(r.backendIDs),
			PreviousIDs: slices.Clone(r.previousIDs),
			HasPrevious: r.snapshotTaken,
			Code:        r.code,
			Message:     r.message,
		}
		if rs.BackendIDs == nil {
			rs.BackendIDs = []backend.ID{}
		}
		if len(r.written) > 0 {
			rs.Written = make(map[backend.ID][]ledger.Posting, len(r.written))
			for bid, postings := range r.written {
				rs.Written[bid] = slices.Clone(postings)
			}
		}
		if cmd, pending := e.dirty[id]; pending {
			rs.Pending = &cmd
		}
		_, rs.Held = e.held[id]
		s.Records = append(s.Records, rs)
	}
	return s
}

// Restore loads a snapshot into an empty engine. resolve supplies the
// transaction of each id.
func (e *Engine) Restore(s Snapshot, resolve Resolver) error {
	if e.closed {
		return errClosed()
	}
	if len(e.machines) > 0 {
		return newError(ErrCodeInvalidState, "", "restore requires an empty engine")
	}
	if err := validateSnapshot(s); err != nil {
		return err
	}

	machines := make(map[string]*record, len(s.Records))
	dirty := make(map[string]Input)
	held := make(map[string]struct{})
	for _, rs := range s.Records {
		txn, err := resolve(rs.ID)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", rs.ID, err)
		}
		if txn == nil {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "resolver returned no transaction")
		}

		r := newRecord(rs.ID, txn)
		r.state = rs.State
		r.backendIDs = slices.Clone(rs.BackendIDs)
		r.previousIDs = slices.Clone(rs.PreviousIDs)
		r.snapshotTaken = rs.HasPrevious
		r.code = rs.Code
		r.message = rs.Message
		for bid, postings := range rs.Written {
			r.written[bid] = slices.Clone(postings)
		}
		machines[rs.ID] = r

		if rs.Pending != nil {
			dirty[rs.ID] = *rs.Pending
		}
		if rs.Held {
			held[rs.ID] = struct{}{}
		}
	}

	e.machines = machines
	e.dirty = dirty
	e.held = held
	e.clock = NewClockAt(s.Seq)
	e.logger.Info("engine state restored",
		"records", len(machines),
		"dirty", len(dirty),
		"held", len(held),
		"seq", s.Seq)
	return nil
}

func validateSnapshot(s Snapshot) error {
	seen := make(map[string]bool, len(s.Records))
	for _, rs := range s.Records {
		if rs.ID == "" {
			return newError(ErrCodeInvalidSnapshot, "", "record without id")
		}
		if seen[rs.ID] {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "duplicate record")
		}
		seen[rs.ID] = true

		if !rs.State.Valid() {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "invalid state %d", int(rs.State))
		}
		if rs.Code < 0 || rs.Code >= numCodes {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "invalid error code %d", int(rs.Code))
		}
		if rs.Pending != nil && rs.Held {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "record is both dirty and held")
		}
		if rs.Pending != nil && !rs.Pending.IsCommand() {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "pending %s is not a command", *rs.Pending)
		}
		if len(rs.BackendIDs) == 0 && rs.State != NoBackendExists && rs.State != Held {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "state %s without backend ids", rs.State)
		}
		if rs.Code != CodeNone && rs.Pending == nil && !rs.Held {
			return newError(ErrCodeInvalidSnapshot, rs.ID, "error %s on a clean record", rs.Code)
		}
		for bid := range maps.Keys(rs.Written) {
			if !slices.Contains(rs.BackendIDs, bid) && !slices.Contains(rs.PreviousIDs, bid) {
				return newError(ErrCodeInvalidSnapshot, rs.ID, "written postings for unknown backend id %s", bid)
			}
		}
	}
	return nil
}
