package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/engine"
	"github.com/roach88/ledgersync/internal/ledger"
)

// LoadSnapshot reads the stored engine state. An empty database yields an
// empty snapshot.
func (s *Store) LoadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	snap := engine.Snapshot{Records: []engine.RecordSnapshot{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_meta WHERE key = ?`, metaSeq,
	).Scan(&snap.Seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return engine.Snapshot{}, fmt.Errorf("load snapshot: seq: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, code, message, pending, held, has_previous
		FROM records
		ORDER BY id ASC
	`)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("load snapshot: query records: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		index[rec.ID] = len(snap.Records)
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return engine.Snapshot{}, fmt.Errorf("load snapshot: iterate records: %w", err)
	}

	if err := s.loadBackendIDs(ctx, &snap, index); err != nil {
		return engine.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.loadWritten(ctx, &snap, index); err != nil {
		return engine.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func scanRecord(rows *sql.Rows) (engine.RecordSnapshot, error) {
	var (
		rec               engine.RecordSnapshot
		state, code       string
		pending           sql.NullString
		held, hasPrevious int
	)
	if err := rows.Scan(&rec.ID, &state, &code, &rec.Message, &pending, &held, &hasPrevious); err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}

	var err error
	if rec.State, err = engine.ParseState(state); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.Code, err = engine.ParseErrorCode(code); err != nil {
		return rec, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if pending.Valid {
		in, err := engine.ParseInput(pending.String)
		if err != nil {
			return rec, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		rec.Pending = &in
	}
	rec.Held = held == 1
	rec.HasPrevious = hasPrevious == 1
	rec.BackendIDs = []backend.ID{}
	return rec, nil
}

func (s *Store) loadBackendIDs(ctx context.Context, snap *engine.Snapshot, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, generation, backend_id
		FROM backend_ids
		ORDER BY record_id ASC, generation ASC, position ASC
	`)
	if err != nil {
		return fmt.Errorf("query backend ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordID, generation, bid string
		if err := rows.Scan(&recordID, &generation, &bid); err != nil {
			return fmt.Errorf("scan backend id: %w", err)
		}
		rec := &snap.Records[index[recordID]]
		if generation == "current" {
			rec.BackendIDs = append(rec.BackendIDs, backend.ID(bid))
		} else {
			rec.PreviousIDs = append(rec.PreviousIDs, backend.ID(bid))
		}
	}
	return rows.Err()
}

func (s *Store) loadWritten(ctx context.Context, snap *engine.Snapshot, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, backend_id, postings
		FROM written_postings
		ORDER BY record_id ASC, backend_id ASC
	`)
	if err != nil {
		return fmt.Errorf("query written postings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordID, bid, data string
		if err := rows.Scan(&recordID, &bid, &data); err != nil {
			return fmt.Errorf("scan written postings: %w", err)
		}
		postings, err := unmarshalPostings(data)
		if err != nil {
			return fmt.Errorf("record %s backend id %s: %w", recordID, bid, err)
		}
		rec := &snap.Records[index[recordID]]
		if rec.Written == nil {
			rec.Written = make(map[backend.ID][]ledger.Posting)
		}
		rec.Written[backend.ID(bid)] = postings
	}
	return rows.Err()
}
