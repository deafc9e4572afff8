// Package harness runs reconciliation scenarios against a real engine.
//
// A scenario drives an engine.Engine over a testutil.ScriptedConnector and
// records, step by step, the connector calls made and the transitions fired.
// The recorded trace is compared against a golden file, so any change in
// call order or state flow shows up as a diff.
//
// # Scenario Format
//
// Scenarios are YAML files validated against an embedded CUE schema:
//
//	name: replace_after_edit
//	description: "An edited transaction is verified, removed and recreated"
//	transactions:
//	  - id: inv-1
//	    lines:
//	      - {account: "Assets:Cash", amount: "10.00"}
//	      - {account: "Income:Sales", amount: "-10.00"}
//	steps:
//	  - op: mark_dirty
//	    id: inv-1
//	  - op: flush
//	  - op: fault
//	    fault: {op: save, kind: reset, times: 1}
//	  - op: expect
//	    id: inv-1
//	    want: {clean: true, state: Synced}
//	assertions:
//	  - type: call_sequence
//	    calls: ["create()->1", "save()"]
//
// # Steps
//
//   - mark_dirty, mark_for_removal, mark_for_verification, mark_for_hold,
//     mark_for_forced_removal: the engine operations. mark_dirty with lines
//     binds a new transaction object to the id.
//   - flush, close: run a flush or close the engine.
//   - edit: replace the lines of a front-end transaction in place.
//   - tamper: rewrite a committed backend transaction out of band.
//   - fault: script a connector failure.
//   - expect: check the status of an id or the committed backend ids.
//
// Any step may set expect_error to the engine error code it should fail with.
//
// # Assertion Types
//
//   - call_sequence: the calls appear in this order (others may intervene)
//   - call_count: the operation was called exactly count times
//   - call_absent: the operation was never called
//
// # Deterministic Testing
//
// Flush ids come from testutil.SequentialFlushIDs and backend ids from the
// in-memory ledger's sequence, so traces are byte-identical across runs.
// Logs are discarded.
package harness
