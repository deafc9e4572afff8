package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/backend/memory"
	"github.com/roach88/ledgersync/internal/engine"
	"github.com/roach88/ledgersync/internal/ledger"
	"github.com/roach88/ledgersync/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	StateDB string
}

// StatusEntry is the status of one transaction as printed by status.
type StatusEntry struct {
	engine.Status
	Reason string `json:"reason,omitempty"`
}

// StatusResult holds every reported transaction.
type StatusResult struct {
	Seq          int64         `json:"seq"`
	Transactions []StatusEntry `json:"transactions"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show persisted reconciliation status",
		Long: `Show the reconciliation status stored in the state database.

Without an id every known transaction is listed. The backend is not
contacted.

Examples:
  ledgersync status --state-db ./ledgersync-state.db
  ledgersync status inv-7 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StateDB, "state-db", "", "path to the engine state database (overrides config)")

	return cmd
}

func runStatus(opts *StatusOptions, args []string, cmd *cobra.Command) error {
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
	if opts.StateDB != "" {
		cfg.StateDB = opts.StateDB
	}

	// store.Open creates missing databases; status must not.
	if _, err := os.Stat(cfg.StateDB); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("state database not found: %s", cfg.StateDB), nil)
		return WrapExitError(ExitCommandError, "state database not found", err)
	}

	st, err := store.Open(cfg.StateDB)
	if err != nil {
		_ = formatter.Error(ErrCodeStateDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open state database", err)
	}
	defer st.Close()

	snap, err := st.LoadSnapshot(cmd.Context())
	if err != nil {
		_ = formatter.Error(ErrCodeStateDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load engine state", err)
	}

	// A read-only engine over an empty in-memory backend: status only needs
	// the restored records.
	eng := engine.New(memory.New(memory.ReadOnly()),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	placeholder := func(string) (ledger.Transaction, error) { return ledger.NewPlain(), nil }
	if err := eng.Restore(snap, placeholder); err != nil {
		_ = formatter.Error(ErrCodeStateDB, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to restore engine state", err)
	}

	ids := eng.IDs()
	if len(args) == 1 {
		ids = args
	}

	result := StatusResult{Seq: snap.Seq, Transactions: make([]StatusEntry, 0, len(ids))}
	for _, id := range ids {
		status, err := eng.Status(id)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "unknown transaction", err)
		}
		entry := StatusEntry{Status: status}
		if !status.Clean {
			entry.Reason, _ = eng.ReasonDirty(id)
		}
		result.Transactions = append(result.Transactions, entry)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	writeStatusText(cmd.OutOrStdout(), result)
	return nil
}

func writeStatusText(w io.Writer, result StatusResult) {
	if len(result.Transactions) == 0 {
		fmt.Fprintln(w, "No transactions tracked.")
		return
	}
	for _, entry := range result.Transactions {
		mark := "✓"
		if !entry.Clean {
			mark = "✗"
		}
		ids := make([]string, len(entry.BackendIDs))
		for i, id := range entry.BackendIDs {
			ids[i] = string(id)
		}
		fmt.Fprintf(w, "%s %s %s [%s]\n", mark, entry.ID, entry.State, strings.Join(ids, ", "))
		if entry.Reason != "" {
			fmt.Fprintf(w, "  %s\n", entry.Reason)
		}
	}
}
