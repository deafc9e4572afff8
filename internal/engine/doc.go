// Package engine implements the backend reconciliation engine.
//
// Every front-end transaction has a small state machine. Callers mark
// transactions dirty, for removal, for verification or for hold; Flush then
// drives every marked machine against the backend connector and commits
// with a single Save.
//
// FLUSH PROTOCOL:
//
//  1. Pass 1: each dirty record (ascending id) is driven with its pending
//     command. Creates, verifies and removes happen here.
//  2. Save is called exactly once.
//  3. Pass 2: after a successful save the same records are driven with
//     LastActSave so CreationTried and VerifyRequested settle to Synced.
//  4. Settle: forgotten records are dropped, held records move to the held
//     set, synced records leave the dirty set.
//
// FAILURES:
//
// Connector failures are recorded on the record (Other, CanNotRemove,
// VerifyFailed, Reset) and never returned from Flush. A Reset means the
// backend lost its uncommitted writes: every record driven so far in the
// flush rolls back to the backend ids it had at the last successful save.
// A failed verification parks the record in Held; nothing is removed or
// overwritten until an operator verifies again or forces removal.
//
// The transition table lives in transitions.go.
package engine
