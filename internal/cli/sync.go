package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/backend/sqlledger"
	"github.com/roach88/ledgersync/internal/config"
	"github.com/roach88/ledgersync/internal/engine"
	"github.com/roach88/ledgersync/internal/ledger"
	"github.com/roach88/ledgersync/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	StateDB     string
	LedgerDB    string
	Journal     string
	Verify      []string
	Hold        []string
	ForceRemove []string

	// FlushIDs allows overriding the flush id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	FlushIDs engine.FlushIDGenerator
}

// SyncResult is the outcome of one sync run.
type SyncResult struct {
	Report    engine.FlushReport `json:"report"`
	Marked    ReconcilePlan      `json:"marked"`
	Reasons   map[string]string  `json:"reasons,omitempty"`
	Committed int                `json:"committed"`
}

// ReconcilePlan lists what reconciling the journal scheduled.
type ReconcilePlan struct {
	Created []string `json:"created"`
	Changed []string `json:"changed"`
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the journal with the backend ledger",
		Long: `Reconcile the journal with the backend ledger.

Restores engine state from the state database, marks new and changed journal
entries dirty, marks entries that left the journal for removal, applies
operator intents, then flushes once against the SQLite ledger.

Exit codes:
  0 - Backend saved
  1 - Backend save failed or was reset; affected transactions stay dirty
  2 - Command error (bad paths, unreadable journal, rejected intent)

Examples:
  ledgersync sync --journal ./journal.yaml --ledger-db ./ledger.db
  ledgersync sync --verify inv-7 --hold inv-9
  ledgersync sync --force-remove inv-9 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StateDB, "state-db", "", "path to the engine state database (overrides config)")
	cmd.Flags().StringVar(&opts.LedgerDB, "ledger-db", "", "path to the SQLite backend ledger (overrides config)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the journal YAML (overrides config)")
	cmd.Flags().StringArrayVar(&opts.Verify, "verify", nil, "re-verify a transaction against the backend (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Hold, "hold", nil, "hold a transaction out of reconciliation (repeatable)")
	cmd.Flags().StringArrayVar(&opts.ForceRemove, "force-remove", nil, "remove a held transaction without verifying (repeatable)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.applyOverrides(cfg)
	logger := newLogger(cfg, opts.RootOptions, cmd.ErrOrStderr())

	ctx, stop := signalContext(cmd)
	defer stop()

	journal, err := ledger.LoadJournal(cfg.Journal)
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load journal", err)
	}
	txns := journal.Plain()

	logger.Info("opening state database", "path", cfg.StateDB)
	st, err := store.Open(cfg.StateDB)
	if err != nil {
		_ = formatter.Error(ErrCodeStateDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open state database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing state database", "error", closeErr)
		}
	}()

	logger.Info("opening backend ledger", "path", cfg.LedgerDB)
	led, err := sqlledger.Open(cfg.LedgerDB)
	if err != nil {
		_ = formatter.Error(ErrCodeLedgerDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open backend ledger", err)
	}
	defer func() {
		if closeErr := led.Close(); closeErr != nil {
			logger.Error("error closing backend ledger", "error", closeErr)
		}
	}()

	flushIDs := opts.FlushIDs
	if flushIDs == nil {
		flushIDs = engine.UUIDv7Generator{}
	}
	eng := engine.New(led,
		engine.WithLogger(logger),
		engine.WithPersister(st),
		engine.WithMaxSteps(cfg.MaxSteps),
		engine.WithFlushIDGenerator(flushIDs),
	)

	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStateDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load engine state", err)
	}
	if err := eng.Restore(snap, journalResolver(txns)); err != nil {
		_ = formatter.Error(ErrCodeStateDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to restore engine state", err)
	}

	plan, err := reconcileJournal(eng, snap, journal, txns)
	if err != nil {
		_ = formatter.Error(ErrCodeIntent, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to reconcile journal", err)
	}
	logger.Info("journal reconciled",
		"created", len(plan.Created),
		"changed", len(plan.Changed),
		"removed", len(plan.Removed))

	if err := applyIntents(eng, opts); err != nil {
		_ = formatter.Error(ErrCodeIntent, err.Error(), nil)
		return WrapExitError(ExitCommandError, "operator intent rejected", err)
	}

	report, err := eng.Flush(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "flush failed", err)
	}

	result := SyncResult{
		Report:  report,
		Marked:  plan,
		Reasons: reasons(eng, report),
	}
	if ids, err := led.IDs(ctx); err == nil {
		result.Committed = len(ids)
	} else {
		logger.Warn("could not count committed backend transactions", "error", err)
	}

	if opts.Format == "json" {
		status := "ok"
		var cliErr *CLIError
		if report.Save != engine.SaveOK {
			status = "error"
			cliErr = &CLIError{Code: ErrCodeSaveFailed, Message: report.SaveError}
		}
		if err := formatter.Response(CLIResponse{Status: status, Data: result, Error: cliErr, FlushID: report.ID}); err != nil {
			return err
		}
	} else {
		writeSyncText(cmd.OutOrStdout(), result)
	}

	if report.Save != engine.SaveOK {
		return NewExitError(ExitFailure, fmt.Sprintf("backend save %s: %s", report.Save, report.SaveError))
	}
	return nil
}

func (o *SyncOptions) applyOverrides(cfg *config.Config) {
	if o.StateDB != "" {
		cfg.StateDB = o.StateDB
	}
	if o.LedgerDB != "" {
		cfg.LedgerDB = o.LedgerDB
	}
	if o.Journal != "" {
		cfg.Journal = o.Journal
	}
}

// newLogger builds the command logger. --verbose forces debug level.
func newLogger(cfg *config.Config, opts *RootOptions, w io.Writer) *slog.Logger {
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg.NewLogger(w)
}

// signalContext cancels on SIGINT or SIGTERM. The command's context is used
// as parent when set (tests).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// journalResolver binds restored ids to their journal entries. Ids that left
// the journal get an empty placeholder; they are only ever removed.
func journalResolver(txns map[string]*ledger.Plain) engine.Resolver {
	return func(id string) (ledger.Transaction, error) {
		if txn, ok := txns[id]; ok {
			return txn, nil
		}
		return ledger.NewPlain(), nil
	}
}

// reconcileJournal marks journal entries unknown to the engine dirty, marks
// entries whose postings differ from what was written dirty again, and marks
// records missing from the journal for removal. Held and pending records are
// left to the operator.
func reconcileJournal(eng *engine.Engine, snap engine.Snapshot, journal *ledger.Journal, txns map[string]*ledger.Plain) (ReconcilePlan, error) {
	plan := ReconcilePlan{Created: []string{}, Changed: []string{}, Removed: []string{}}

	known := make(map[string]engine.RecordSnapshot, len(snap.Records))
	for _, rs := range snap.Records {
		known[rs.ID] = rs
	}

	for _, entry := range journal.Transactions {
		rs, ok := known[entry.ID]
		if !ok {
			if err := eng.MarkDirty(entry.ID, txns[entry.ID]); err != nil {
				return plan, err
			}
			plan.Created = append(plan.Created, entry.ID)
			continue
		}
		if rs.Held || rs.Pending != nil {
			plan.Skipped = append(plan.Skipped, entry.ID)
			continue
		}
		if !changed(rs, txns[entry.ID]) {
			continue
		}
		if err := eng.MarkDirty(entry.ID, txns[entry.ID]); err != nil {
			return plan, err
		}
		plan.Changed = append(plan.Changed, entry.ID)
	}

	for _, rs := range snap.Records {
		if _, ok := txns[rs.ID]; ok {
			continue
		}
		if rs.Held {
			plan.Skipped = append(plan.Skipped, rs.ID)
			continue
		}
		if err := eng.MarkForRemoval(rs.ID); err != nil {
			return plan, err
		}
		plan.Removed = append(plan.Removed, rs.ID)
	}
	return plan, nil
}

// changed reports whether the journal postings differ from the postings last
// written for the record. Unrepresentable entries count as changed so the
// engine records the error.
func changed(rs engine.RecordSnapshot, txn *ledger.Plain) bool {
	postings, err := txn.Postings()
	if err != nil {
		return true
	}
	if len(rs.BackendIDs) == 0 {
		return len(postings) > 0
	}
	var written []ledger.Posting
	for _, bid := range rs.BackendIDs {
		written = append(written, rs.Written[bid]...)
	}
	want, err := ledger.Digest(postings)
	if err != nil {
		return true
	}
	got, err := ledger.Digest(written)
	if err != nil {
		return true
	}
	return want != got
}

// applyIntents applies operator commands in a fixed order: holds, then
// verifications, then forced removals.
func applyIntents(eng *engine.Engine, opts *SyncOptions) error {
	for _, id := range opts.Hold {
		if err := eng.MarkForHold(id); err != nil {
			return fmt.Errorf("hold %s: %w", id, err)
		}
	}
	for _, id := range opts.Verify {
		if err := eng.MarkForVerification(id); err != nil {
			return fmt.Errorf("verify %s: %w", id, err)
		}
	}
	for _, id := range opts.ForceRemove {
		if err := eng.MarkForForcedRemoval(id); err != nil {
			return fmt.Errorf("force-remove %s: %w", id, err)
		}
	}
	return nil
}

// reasons collects ReasonDirty for every transaction left dirty or held.
func reasons(eng *engine.Engine, report engine.FlushReport) map[string]string {
	out := make(map[string]string)
	for _, ids := range [][]string{report.Dirty, report.Held} {
		for _, id := range ids {
			if reason, err := eng.ReasonDirty(id); err == nil {
				out[id] = reason
			}
		}
	}
	return out
}

func writeSyncText(w io.Writer, result SyncResult) {
	r := result.Report
	fmt.Fprintf(w, "Flush %s (seq %d): save %s\n", r.ID, r.Seq, r.Save)
	if r.SaveError != "" {
		fmt.Fprintf(w, "  save error: %s\n", r.SaveError)
	}
	fmt.Fprintf(w, "  journal: %d new, %d changed, %d removed\n",
		len(result.Marked.Created), len(result.Marked.Changed), len(result.Marked.Removed))
	fmt.Fprintf(w, "  driven: %d, forgotten: %d, held: %d, dirty: %d\n",
		len(r.Driven), len(r.Forgotten), len(r.Held), len(r.Dirty))
	fmt.Fprintf(w, "  backend transactions: %d\n", result.Committed)

	for _, id := range r.Held {
		fmt.Fprintf(w, "✗ %s held: %s\n", id, result.Reasons[id])
	}
	for _, id := range r.Dirty {
		fmt.Fprintf(w, "✗ %s dirty: %s\n", id, result.Reasons[id])
	}
	if len(r.Held) == 0 && len(r.Dirty) == 0 && r.Save == engine.SaveOK {
		fmt.Fprintln(w, "✓ All transactions in sync")
	}
}
