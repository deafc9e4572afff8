package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/ledgersync/internal/backend"
)

// SaveOutcome is the result of the single Save call of a flush.
type SaveOutcome string

const (
	SaveOK     SaveOutcome = "ok"
	SaveFailed SaveOutcome = "failed"
	SaveReset  SaveOutcome = "reset"
)

// FlushReport summarises one flush.
type FlushReport struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	Driven    []string    `json:"driven"`
	Save      SaveOutcome `json:"save"`
	SaveError string      `json:"save_error,omitempty"`
	Forgotten []string    `json:"forgotten"`
	Held      []string    `json:"held"`
	Dirty     []string    `json:"dirty"`
}

// Flush reconciles every dirty transaction with the backend.
//
// Pass 1 drives each dirty record with its pending command. The connector's
// Save is then called exactly once. After a successful save, pass 2 drives
// the same records with LastActSave so creations and verifications settle.
// Finally the dirty and held indexes are updated and the snapshot persisted.
//
// Connector failures never escape Flush; they are recorded per transaction.
// Flush fails only when the engine is closed, the connector cannot write, or
// the persister fails.
func (e *Engine) Flush(ctx context.Context) (FlushReport, error) {
	if e.closed {
		return FlushReport{}, errClosed()
	}
	if !e.conn.CanWrite() {
		return FlushReport{}, newError(ErrCodeReadOnly, "", "backend connector cannot write")
	}

	report := FlushReport{
		ID:        e.flushIDs.Generate(),
		Seq:       e.clock.Next(),
		Driven:    []string{},
		Forgotten: []string{},
		Held:      []string{},
		Dirty:     []string{},
	}
	logger := e.logger.With("flush", report.ID, "seq", report.Seq)
	d := e.newDriver(ctx, logger)

	ids := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	logger.Info("flush started", "dirty", len(ids))

	// Pass 1: attempt.
	driven := make([]*record, 0, len(ids))
	for _, id := range ids {
		r := e.machines[id]
		r.clearStale()
		r.takeSnapshot()
		d.drive(r, e.dirty[id])
		driven = append(driven, r)
		report.Driven = append(report.Driven, id)

		if r.resetRaised {
			logger.Warn("backend reset during flush; rolling back", "id", id, "rolled_back", len(driven))
			e.rollback(d, driven, r.message)
		}
	}

	// Exactly one save.
	err := e.conn.Save(ctx)
	switch {
	case err == nil:
		report.Save = SaveOK
		// Pass 2: settle.
		for _, r := range driven {
			if r.destroyed {
				continue
			}
			d.drive(r, LastActSave)
			r.commitSnapshot()
		}
	case backend.IsReset(err):
		report.Save = SaveReset
		report.SaveError = err.Error()
		logger.Warn("backend reset on save; rolling back", "error", err, "rolled_back", len(driven))
		e.rollback(d, driven, err.Error())
	default:
		report.Save = SaveFailed
		report.SaveError = err.Error()
		logger.Warn("backend save failed; transactions stay dirty", "error", err)
		for _, r := range driven {
			// Removal is only final once saved.
			r.destroyed = false
		}
	}

	e.settle(driven, &report)

	logger.Info("flush finished",
		"save", report.Save,
		"driven", len(report.Driven),
		"forgotten", len(report.Forgotten),
		"held", len(report.Held),
		"dirty", len(report.Dirty))

	if err := e.persist(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Close rolls every outstanding transaction back to its last saved point and
// releases the connector. Save is not called.
func (e *Engine) Close(ctx context.Context, reason string) error {
	if e.closed {
		return nil
	}
	if reason == "" {
		reason = "engine closed"
	}

	logger := e.logger.With("close", reason)
	d := e.newDriver(ctx, logger)

	ids := make([]string, 0, len(e.machines))
	for id := range e.machines {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var outstanding []*record
	for _, id := range ids {
		r := e.machines[id]
		if _, dirty := e.dirty[id]; dirty || r.snapshotTaken {
			outstanding = append(outstanding, r)
		}
	}
	e.rollback(d, outstanding, reason)

	for _, r := range outstanding {
		if _, held := e.held[r.id]; held {
			continue
		}
		if _, dirty := e.dirty[r.id]; !dirty {
			e.dirty[r.id] = Recreate
		}
	}
	e.closed = true
	logger.Info("engine closed", "rolled_back", len(outstanding))

	persistErr := e.persist(ctx)

	if c, ok := e.conn.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close connector: %w", err)
		}
	}
	return persistErr
}

// rollback forces records back to their saved ids. Held records made no
// backend writes and are left alone.
func (e *Engine) rollback(d *driver, records []*record, reason string) {
	for _, r := range records {
		r.resetRaised = false
		if r.state == Held {
			continue
		}
		r.destroyed = false
		r.setError(CodeReset, reason)
		d.drive(r, LastActNone)
	}
}

// settle moves driven records between the indexes according to where their
// drives ended.
func (e *Engine) settle(driven []*record, report *FlushReport) {
	for _, r := range driven {
		switch {
		case r.destroyed:
			delete(e.machines, r.id)
			delete(e.dirty, r.id)
			delete(e.held, r.id)
			report.Forgotten = append(report.Forgotten, r.id)
		case r.state == Held:
			delete(e.dirty, r.id)
			e.held[r.id] = struct{}{}
			report.Held = append(report.Held, r.id)
		case r.state == Synced && r.code == CodeNone:
			delete(e.dirty, r.id)
		default:
			report.Dirty = append(report.Dirty, r.id)
		}
	}
}

func (e *Engine) persist(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	if err := e.persister.SaveSnapshot(ctx, e.Snapshot()); err != nil {
		e.logger.Error("failed to persist engine state", "error", err)
		return fmt.Errorf("persist engine state: %w", err)
	}
	return nil
}

func (e *Engine) newDriver(ctx context.Context, logger *slog.Logger) *driver {
	return &driver{
		ctx:      ctx,
		conn:     e.conn,
		logger:   logger,
		maxSteps: e.maxSteps,
		observe:  e.observer,
	}
}
