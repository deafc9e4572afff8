// Package store provides SQLite-backed persistence for reconciliation engine
// state.
//
// A Store implements engine.Persister: after every flush the engine hands it
// a full snapshot, which replaces the stored one in a single transaction.
// LoadSnapshot reads it back for engine.Restore.
//
// # Tables
//
//   - records: state, error, pending command and held flag per transaction
//   - backend_ids: current and previous backend id generations, in order
//   - written_postings: the postings sent with each create, as JSON
//   - engine_meta: the logical flush sequence
//
// The records table refuses a row that is both dirty and held, so a
// database never holds a state the engine could not have produced.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s for locks
//   - foreign_keys=ON: Cascade deletes from records
package store
