package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/backend/memory"
	"github.com/roach88/ledgersync/internal/engine"
	"github.com/roach88/ledgersync/internal/ledger"
	"github.com/roach88/ledgersync/internal/testutil"
)

// Harness executes one scenario. Each run gets a fresh engine and backend.
type Harness struct {
	engine *engine.Engine
	conn   *testutil.ScriptedConnector
	txns   map[string]*ledger.Plain
	fired  []engine.Transition
	result *Result
}

// Run executes a scenario and returns the result.
//
// A returned error means the scenario itself could not be executed (a fault
// the connector rejects, tampering with a missing backend id). Failed
// expectations are reported in Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	var ledgerOpts []memory.Option
	if scenario.ReadOnly {
		ledgerOpts = append(ledgerOpts, memory.ReadOnly())
	}

	h := &Harness{
		conn:   testutil.NewScriptedConnector(ledgerOpts...),
		txns:   make(map[string]*ledger.Plain, len(scenario.Transactions)),
		result: NewResult(),
	}
	for _, txn := range scenario.Transactions {
		h.txns[txn.ID] = ledger.NewPlain(txn.Lines...)
	}

	opts := []engine.Option{
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithFlushIDGenerator(testutil.NewSequentialFlushIDs("")),
		engine.WithObserver(func(tr engine.Transition) {
			h.fired = append(h.fired, tr)
		}),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	h.engine = engine.New(h.conn, opts...)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}

	for _, msg := range EvaluateAssertions(h.result.Calls, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) execute(ctx context.Context, n int, step Step) error {
	event := TraceEvent{Step: n, Op: step.Op, ID: step.ID}
	before := len(h.conn.Calls())
	h.fired = h.fired[:0]

	var opErr error
	switch step.Op {
	case OpMarkDirty:
		opErr = h.engine.MarkDirty(step.ID, h.transaction(step))
	case OpMarkForRemoval:
		opErr = h.engine.MarkForRemoval(step.ID)
	case OpMarkForVerification:
		opErr = h.engine.MarkForVerification(step.ID)
	case OpMarkForHold:
		opErr = h.engine.MarkForHold(step.ID)
	case OpMarkForForcedRemoval:
		opErr = h.engine.MarkForForcedRemoval(step.ID)
	case OpFlush:
		report, err := h.engine.Flush(ctx)
		opErr = err
		if err == nil {
			event.Flush = &FlushSummary{
				Save:      string(report.Save),
				Forgotten: report.Forgotten,
				Held:      report.Held,
				Dirty:     report.Dirty,
			}
			if step.Want != nil && step.Want.Save != "" && step.Want.Save != string(report.Save) {
				h.result.AddError(fmt.Sprintf("step %d (flush): save = %s, want %s", n, report.Save, step.Want.Save))
			}
		}
	case OpClose:
		opErr = h.engine.Close(ctx, step.Reason)
	case OpEdit:
		txn, ok := h.txns[step.ID]
		if !ok {
			return fmt.Errorf("unknown transaction %q", step.ID)
		}
		txn.SetLines(step.Lines)
	case OpTamper:
		postings, err := ledger.NewPlain(step.Lines...).Postings()
		if err != nil {
			return err
		}
		if err := h.conn.Ledger.Tamper(backend.ID(step.BackendID), postings); err != nil {
			return err
		}
	case OpFault:
		f := step.Fault
		if err := h.conn.Inject(testutil.Fault{
			Op:    f.Op,
			Kind:  testutil.FaultKind(f.Kind),
			ID:    backend.ID(f.BackendID),
			Times: f.Times,
		}); err != nil {
			return err
		}
	case OpExpect:
		h.expect(n, step)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	h.checkError(n, step, opErr, &event)

	calls := h.conn.Calls()[before:]
	if len(calls) > 0 {
		event.Calls = calls
		h.result.Calls = append(h.result.Calls, calls...)
	}
	for _, tr := range h.fired {
		event.Transitions = append(event.Transitions, FormatTransition(tr))
	}
	h.result.Trace = append(h.result.Trace, event)
	return nil
}

// transaction returns the object a mark_dirty step binds. Lines on the step
// create a new object; the first one bound to an unknown id is remembered.
func (h *Harness) transaction(step Step) *ledger.Plain {
	if len(step.Lines) == 0 {
		return h.txns[step.ID]
	}
	txn := ledger.NewPlain(step.Lines...)
	if _, ok := h.txns[step.ID]; !ok {
		h.txns[step.ID] = txn
	}
	return txn
}

func (h *Harness) checkError(n int, step Step, err error, event *TraceEvent) {
	if err == nil {
		if step.ExpectError != "" {
			h.result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got none", n, step.Op, step.ExpectError))
		}
		return
	}

	code := "ERROR"
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		code = string(engErr.Code)
	}
	event.Error = code

	switch {
	case step.ExpectError == "":
		h.result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", n, step.Op, err))
	case step.ExpectError != code:
		h.result.AddError(fmt.Sprintf("step %d (%s): error = %s, want %s", n, step.Op, code, step.ExpectError))
	}
}

func (h *Harness) expect(n int, step Step) {
	w := step.Want
	mismatch := func(field string, got, want any) {
		h.result.AddError(fmt.Sprintf("step %d (expect %s): %s = %v, want %v", n, step.ID, field, got, want))
	}

	if w.Committed != nil {
		got := idStrings(h.conn.Ledger.Committed())
		if !slices.Equal(got, w.Committed) {
			mismatch("committed", got, w.Committed)
		}
	}
	if step.ID == "" {
		return
	}

	st, err := h.engine.Status(step.ID)
	known := err == nil
	if w.Known != nil && *w.Known != known {
		mismatch("known", known, *w.Known)
		return
	}
	if !known {
		if w.Known == nil {
			h.result.AddError(fmt.Sprintf("step %d (expect %s): %v", n, step.ID, err))
		}
		return
	}

	if w.Clean != nil && *w.Clean != st.Clean {
		mismatch("clean", st.Clean, *w.Clean)
	}
	if w.Held != nil && *w.Held != st.Held {
		mismatch("held", st.Held, *w.Held)
	}
	if w.State != "" && w.State != st.State.String() {
		mismatch("state", st.State, w.State)
	}
	if w.Code != "" && w.Code != st.Code.String() {
		mismatch("code", st.Code, w.Code)
	}
	if w.BackendIDs != nil {
		got := idStrings(st.BackendIDs)
		if !slices.Equal(got, w.BackendIDs) {
			mismatch("backend_ids", got, w.BackendIDs)
		}
	}
	if w.Reason != "" {
		reason, err := h.engine.ReasonDirty(step.ID)
		if err != nil {
			reason = err.Error()
		}
		if reason != w.Reason {
			mismatch("reason", reason, w.Reason)
		}
	}
}

// FormatTransition renders a transition as one trace line.
func FormatTransition(tr engine.Transition) string {
	line := fmt.Sprintf("%s %s --%s--> %s", tr.ID, tr.From, tr.Rule, tr.To)
	if tr.Code != engine.CodeNone {
		line += " [" + tr.Code.String() + "]"
	}
	return line
}

func idStrings(ids []backend.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
