package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/engine"
)

const metaSeq = "seq"

// SaveSnapshot replaces the stored engine state with snap.
// Implements engine.Persister.
func (s *Store) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	// backend_ids and written_postings cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("save snapshot: clear records: %w", err)
	}

	for _, rec := range snap.Records {
		if err := writeRecord(ctx, tx, rec); err != nil {
			return fmt.Errorf("save snapshot: %s: %w", rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO engine_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaSeq, snap.Seq); err != nil {
		return fmt.Errorf("save snapshot: seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, rec engine.RecordSnapshot) error {
	var pending sql.NullString
	if rec.Pending != nil {
		pending = sql.NullString{String: rec.Pending.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO records
		(id, state, code, message, pending, held, has_previous)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.State.String(),
		rec.Code.String(),
		rec.Message,
		pending,
		boolToInt(rec.Held),
		boolToInt(rec.HasPrevious),
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	if err := writeBackendIDs(ctx, tx, rec.ID, "current", rec.BackendIDs); err != nil {
		return err
	}
	if err := writeBackendIDs(ctx, tx, rec.ID, "previous", rec.PreviousIDs); err != nil {
		return err
	}

	// Sorted for a reproducible insert order.
	bids := make([]backend.ID, 0, len(rec.Written))
	for bid := range rec.Written {
		bids = append(bids, bid)
	}
	slices.Sort(bids)
	for _, bid := range bids {
		postingsJSON, err := marshalPostings(rec.Written[bid])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO written_postings (record_id, backend_id, postings)
			VALUES (?, ?, ?)
		`, rec.ID, string(bid), postingsJSON); err != nil {
			return fmt.Errorf("write postings %s: %w", bid, err)
		}
	}
	return nil
}

func writeBackendIDs(ctx context.Context, tx *sql.Tx, recordID, generation string, ids []backend.ID) error {
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backend_ids (record_id, generation, position, backend_id)
			VALUES (?, ?, ?, ?)
		`, recordID, generation, i, string(id)); err != nil {
			return fmt.Errorf("write %s backend id %s: %w", generation, id, err)
		}
	}
	return nil
}
