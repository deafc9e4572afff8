package sqlledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/engine"
	"github.com/roach88/ledgersync/internal/ledger"
)

var _ backend.Connector = (*Ledger)(nil)

func postings(amount string) []ledger.Posting {
	return []ledger.Posting{
		{AccountPath: []string{"Assets", "Bank"}, Amount: decimal.RequireFromString(amount), Memo: "rent", Currency: "EUR"},
		{AccountPath: []string{"Expenses", "Rent"}, Amount: decimal.RequireFromString(amount).Neg(), Memo: "rent", Currency: "EUR"},
	}
}

func fixedIDs(ids ...string) Option {
	i := 0
	return WithIDGenerator(func() backend.ID {
		id := ids[i%len(ids)]
		i++
		return backend.ID(id)
	})
}

func openTemp(t *testing.T, opts ...Option) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestLedger_SaveCommits(t *testing.T) {
	ctx := context.Background()
	l, path := openTemp(t)

	id, err := l.Create(ctx, postings("1250.00"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, l.Save(ctx))
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Verify(ctx, id, postings("1250"))
	require.NoError(t, err)
	assert.True(t, ok, "digest ignores decimal scale")

	got, err := reopened.Postings(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"Assets", "Bank"}, got[0].AccountPath)
	assert.True(t, got[1].Amount.Equal(decimal.RequireFromString("-1250")))
	assert.Equal(t, "EUR", got[0].Currency)
}

func TestLedger_CloseDiscardsUnsaved(t *testing.T) {
	ctx := context.Background()
	l, path := openTemp(t)

	_, err := l.Create(ctx, postings("5"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	ids, err := reopened.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLedger_VerifyMismatchAndMissing(t *testing.T) {
	ctx := context.Background()
	l, _ := openTemp(t)

	id, err := l.Create(ctx, postings("10"))
	require.NoError(t, err)

	ok, err := l.Verify(ctx, id, postings("10"))
	require.NoError(t, err)
	assert.True(t, ok, "unsaved create is visible to the session")

	ok, err = l.Verify(ctx, id, postings("11"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Verify(ctx, "missing", postings("10"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_RemoveCascades(t *testing.T) {
	ctx := context.Background()
	l, _ := openTemp(t)

	id, err := l.Create(ctx, postings("10"))
	require.NoError(t, err)
	require.NoError(t, l.Save(ctx))

	require.NoError(t, l.Remove(ctx, id))
	require.NoError(t, l.Save(ctx))

	var splits int
	require.NoError(t, l.DB().QueryRow(`SELECT COUNT(*) FROM ledger_splits`).Scan(&splits))
	assert.Zero(t, splits)

	err = l.Remove(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.False(t, backend.IsReset(err))
}

func TestLedger_FailureWithBufferedWritesIsReset(t *testing.T) {
	ctx := context.Background()
	l, _ := openTemp(t, fixedIDs("dup"))

	_, err := l.Create(ctx, postings("10"))
	require.NoError(t, err)

	// Same id again: primary key violation with one write buffered.
	_, err = l.Create(ctx, postings("20"))
	require.Error(t, err)
	assert.True(t, backend.IsReset(err))

	require.NoError(t, l.Save(ctx))
	ids, err := l.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "buffered create was rolled back")
}

func TestLedger_FailureWithoutBufferedWritesIsPlain(t *testing.T) {
	ctx := context.Background()
	l, _ := openTemp(t, fixedIDs("dup"))

	_, err := l.Create(ctx, postings("10"))
	require.NoError(t, err)
	require.NoError(t, l.Save(ctx))

	_, err = l.Create(ctx, postings("20"))
	require.Error(t, err)
	assert.False(t, backend.IsReset(err))

	ids, err := l.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []backend.ID{"dup"}, ids)
}

func TestLedger_OutOfBandEditBreaksVerify(t *testing.T) {
	tests := []struct {
		name string
		edit string
	}{
		{"amount changed", `UPDATE ledger_splits SET amount = '999' WHERE transaction_id = ? AND position = 0`},
		{"split deleted", `DELETE FROM ledger_splits WHERE transaction_id = ? AND position = 1`},
		{"every split deleted", `DELETE FROM ledger_splits WHERE transaction_id = ?`},
		{"memo changed", `UPDATE ledger_splits SET memo = 'deposit' WHERE transaction_id = ? AND position = 1`},
		{"amount unparseable", `UPDATE ledger_splits SET amount = 'abc' WHERE transaction_id = ? AND position = 0`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l, _ := openTemp(t)

			id, err := l.Create(ctx, postings("10"))
			require.NoError(t, err)
			require.NoError(t, l.Save(ctx))

			ok, err := l.Verify(ctx, id, postings("10"))
			require.NoError(t, err)
			require.True(t, ok)

			_, err = l.DB().Exec(tt.edit, string(id))
			require.NoError(t, err)

			ok, err = l.Verify(ctx, id, postings("10"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// removeCounter records Remove calls made through the engine.
type removeCounter struct {
	*Ledger
	removes int
}

func (c *removeCounter) Remove(ctx context.Context, id backend.ID) error {
	c.removes++
	return c.Ledger.Remove(ctx, id)
}

func TestLedger_EngineHoldsEditedTransaction(t *testing.T) {
	ctx := context.Background()
	l, _ := openTemp(t, fixedIDs("b1"))
	conn := &removeCounter{Ledger: l}

	e := engine.New(conn,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithFlushIDGenerator(engine.NewFixedGenerator("flush-1", "flush-2")),
	)
	txn := ledger.NewPlain(
		ledger.Line{Account: "Assets:Bank", Amount: "10", Currency: "EUR", Date: "2026-03-01"},
		ledger.Line{Account: "Expenses:Rent", Amount: "-10", Currency: "EUR", Date: "2026-03-01"},
	)
	require.NoError(t, e.MarkDirty("rent", txn))
	report, err := e.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flush-1", report.ID)
	assert.Equal(t, engine.SaveOK, report.Save)

	_, err = l.DB().Exec(`UPDATE ledger_splits SET amount = '5000' WHERE transaction_id = ? AND position = 0`, "b1")
	require.NoError(t, err)

	require.NoError(t, e.MarkForRemoval("rent"))
	report, err = e.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flush-2", report.ID)
	assert.Equal(t, []string{"rent"}, report.Held)
	assert.Empty(t, report.Forgotten)

	status, err := e.Status("rent")
	require.NoError(t, err)
	assert.Equal(t, engine.Held, status.State)
	assert.Equal(t, engine.CodeVerifyFailed, status.Code)
	assert.True(t, status.Held)
	assert.Equal(t, []backend.ID{"b1"}, status.BackendIDs)

	assert.Zero(t, conn.removes)
	ids, err := l.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []backend.ID{"b1"}, ids)
	got, err := l.Postings(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("5000")), "edited split is kept")
}

func TestLedger_ReadOnly(t *testing.T) {
	l, _ := openTemp(t, ReadOnly())
	assert.False(t, l.CanWrite())
}
