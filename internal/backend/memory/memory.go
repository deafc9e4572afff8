// Package memory provides an in-memory double-entry backend.
//
// Writes are buffered until Save, like a real ledger session. DropPending
// discards the buffer, which is exactly what a backend reset does, and Tamper
// edits committed data the way out-of-band software would.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/ledger"
)

type entry struct {
	postings []ledger.Posting
	digest   string
}

type pendingOp struct {
	create bool
	id     backend.ID
	entry  entry
}

// Ledger is an in-memory backend. IDs are sequential decimal strings starting
// at "1" and are never reused, even after a reset.
type Ledger struct {
	committed map[backend.ID]entry
	pending   []pendingOp
	lastID    int
	readOnly  bool
	saves     int
}

// Option configures a Ledger.
type Option func(*Ledger)

// ReadOnly makes CanWrite report false.
func ReadOnly() Option {
	return func(l *Ledger) {
		l.readOnly = true
	}
}

// New creates an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{committed: make(map[backend.ID]entry)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanWrite implements backend.Connector.
func (l *Ledger) CanWrite() bool {
	return !l.readOnly
}

// Create implements backend.Connector.
func (l *Ledger) Create(_ context.Context, postings []ledger.Posting) (backend.ID, error) {
	digest, err := ledger.Digest(postings)
	if err != nil {
		return "", backend.NewError("create", "", err)
	}

	l.lastID++
	id := backend.ID(strconv.Itoa(l.lastID))
	l.pending = append(l.pending, pendingOp{
		create: true,
		id:     id,
		entry:  entry{postings: clonePostings(postings), digest: digest},
	})
	return id, nil
}

// Remove implements backend.Connector.
func (l *Ledger) Remove(_ context.Context, id backend.ID) error {
	if _, ok := l.lookup(id); !ok {
		return backend.NewError("remove", id, backend.ErrNotFound)
	}
	l.pending = append(l.pending, pendingOp{id: id})
	return nil
}

// Verify implements backend.Connector. A missing transaction does not verify.
func (l *Ledger) Verify(_ context.Context, id backend.ID, postings []ledger.Posting) (bool, error) {
	e, ok := l.lookup(id)
	if !ok {
		return false, nil
	}
	digest, err := ledger.Digest(postings)
	if err != nil {
		return false, backend.NewError("verify", id, err)
	}
	return digest == e.digest, nil
}

// Save implements backend.Connector.
func (l *Ledger) Save(context.Context) error {
	for _, op := range l.pending {
		if op.create {
			l.committed[op.id] = op.entry
		} else {
			delete(l.committed, op.id)
		}
	}
	l.pending = nil
	l.saves++
	return nil
}

// DropPending discards every buffered write and reports how many were lost.
func (l *Ledger) DropPending() int {
	n := len(l.pending)
	l.pending = nil
	return n
}

// Pending returns the number of buffered writes.
func (l *Ledger) Pending() int {
	return len(l.pending)
}

// Saves returns how many times Save succeeded.
func (l *Ledger) Saves() int {
	return l.saves
}

// Tamper replaces the committed postings of id, as software editing the
// backend directly would.
func (l *Ledger) Tamper(id backend.ID, postings []ledger.Posting) error {
	if _, ok := l.committed[id]; !ok {
		return fmt.Errorf("tamper %s: %w", id, backend.ErrNotFound)
	}
	digest, err := ledger.Digest(postings)
	if err != nil {
		return fmt.Errorf("tamper %s: %w", id, err)
	}
	l.committed[id] = entry{postings: clonePostings(postings), digest: digest}
	return nil
}

// Committed returns the committed IDs in ascending numeric order.
func (l *Ledger) Committed() []backend.ID {
	ids := make([]backend.ID, 0, len(l.committed))
	for id := range l.committed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(string(ids[i]))
		b, _ := strconv.Atoi(string(ids[j]))
		return a < b
	})
	return ids
}

// Postings returns a copy of the committed postings of id.
func (l *Ledger) Postings(id backend.ID) ([]ledger.Posting, bool) {
	e, ok := l.committed[id]
	if !ok {
		return nil, false
	}
	return clonePostings(e.postings), true
}

// lookup resolves id against committed data with buffered writes applied.
func (l *Ledger) lookup(id backend.ID) (entry, bool) {
	e, ok := l.committed[id]
	for _, op := range l.pending {
		if op.id != id {
			continue
		}
		if op.create {
			e, ok = op.entry, true
		} else {
			ok = false
		}
	}
	return e, ok
}

func clonePostings(postings []ledger.Posting) []ledger.Posting {
	out := make([]ledger.Posting, len(postings))
	for i, p := range postings {
		p.AccountPath = append([]string(nil), p.AccountPath...)
		out[i] = p
	}
	return out
}
