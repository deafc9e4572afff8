package engine

import "slices"

type guard func(r *record, in Input) bool

// action performs the side effect of a rule. Returning false aborts the
// transition: the state stays, whatever error the action recorded remains.
type action func(d *driver, r *record, in Input) bool

type rule struct {
	name string
	when guard
	do   action
	next State
}

func on(inputs ...Input) guard {
	return func(_ *record, in Input) bool {
		return slices.Contains(inputs, in)
	}
}

func withCode(code ErrorCode) guard {
	return func(r *record, _ Input) bool {
		return r.code == code
	}
}

func both(a, b guard) guard {
	return func(r *record, in Input) bool {
		return a(r, in) && b(r, in)
	}
}

func hasError(r *record, _ Input) bool {
	return r.code != CodeNone
}

func anyCommand(_ *record, in Input) bool {
	return in.IsCommand()
}

func noBackend(r *record, _ Input) bool {
	return len(r.backendIDs) == 0
}

func resetWithSaved(r *record, _ Input) bool {
	return r.code == CodeReset && len(r.savedIDs()) > 0
}

// resetRows roll a record back to its saved ids. With nothing saved there is
// nothing in the backend, so the record starts over.
func resetRows(rows ...rule) []rule {
	return append([]rule{
		{"reset-restore", resetWithSaved, actRestore, OutOfSync},
		{"reset-start-over", withCode(CodeReset), actRestore, NoBackendExists},
	}, rows...)
}

// transitions is the reconciliation table. For each state the first rule
// whose guard matches fires.
var transitions = [numStates][]rule{
	NoBackendExists: resetRows(
		// Without backend ids the record cannot be OutOfSync; it stays here
		// and remains visibly dirty.
		rule{"error-stay", hasError, nil, NoBackendExists},
		rule{"safe-remove", on(SafeRemoveRequested), actForget, NoBackendExists},
		rule{"blowout", on(BlowoutRequested), actForget, NoBackendExists},
		rule{"leave-alone", on(LeaveAloneRequested), nil, Held},
		rule{"create", anyCommand, actCreate, CreationTried},
	),
	CreationTried: resetRows(
		rule{"error", hasError, nil, OutOfSync},
		rule{"saved", on(LastActSave), actCommit, Synced},
		rule{"abandon", on(SafeRemoveRequested, LeaveAloneRequested), nil, OutOfSync},
	),
	Synced: resetRows(
		rule{"error", hasError, nil, OutOfSync},
		rule{"reappeared", anyCommand, nil, OutOfSync},
	),
	OutOfSync: resetRows(
		rule{"error-stay", hasError, nil, OutOfSync},
		rule{"leave-alone", on(LeaveAloneRequested), nil, Held},
		rule{"blowout", on(BlowoutRequested), nil, OldToBeRemoved},
		rule{"verify-only", on(VerificationRequested), actVerify, VerifyRequested},
		rule{"verify-before-replace", anyCommand, actVerify, OldToBeRemoved},
	),
	OldToBeRemoved: append([]rule{
		{"verify-failed", withCode(CodeVerifyFailed), nil, HeldWaitSave},
	}, resetRows(
		rule{"error", hasError, nil, OutOfSync},
		rule{"remove", anyCommand, actRemove, NoBackendExists},
	)...),
	VerifyRequested: append([]rule{
		{"verify-failed", withCode(CodeVerifyFailed), nil, HeldWaitSave},
	}, resetRows(
		rule{"error", hasError, nil, OutOfSync},
		rule{"saved", on(LastActSave), actCommit, Synced},
	)...),
	HeldWaitSave: resetRows(
		rule{"saved", on(LastActSave), nil, Held},
	),
	Held: {
		{"retry-recreate", both(on(VerificationRequested), noBackend), actClearError, NoBackendExists},
		{"retry", on(VerificationRequested), actClearError, OutOfSync},
		{"blowout", on(BlowoutRequested), actClearError, OldToBeRemoved},
	},
}
