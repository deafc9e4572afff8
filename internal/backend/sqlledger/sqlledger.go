// Package sqlledger is a backend connector over a SQLite double-entry ledger.
//
// A session holds at most one open *sql.Tx. Create and Remove write through it
// and Save commits it. When anything fails while the transaction carries
// writes, the transaction is rolled back and the failure is reported as a
// backend.ResetError: the buffered writes are gone. Failures with nothing
// buffered are plain backend.Error values.
package sqlledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

// Ledger is a SQLite-backed backend.Connector.
// Not safe for concurrent use.
type Ledger struct {
	db       *sql.DB
	tx       *sql.Tx
	writes   int
	readOnly bool
	newID    func() backend.ID
}

// Option configures a Ledger.
type Option func(*Ledger)

// ReadOnly makes CanWrite report false.
func ReadOnly() Option {
	return func(l *Ledger) {
		l.readOnly = true
	}
}

// WithIDGenerator overrides backend id generation (default: UUIDv7).
func WithIDGenerator(gen func() backend.ID) Option {
	return func(l *Ledger) {
		l.newID = gen
	}
}

// Open creates or opens a ledger database at path.
func Open(path string, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	// One connection: the open session transaction owns it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}

	l := &Ledger{
		db: db,
		newID: func() backend.ID {
			return backend.ID(uuid.Must(uuid.NewV7()).String())
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close discards any uncommitted writes and closes the database.
func (l *Ledger) Close() error {
	if l.tx != nil {
		_ = l.tx.Rollback()
		l.tx = nil
		l.writes = 0
	}
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// DB returns the underlying database. Writing through it bypasses the
// session, which is what out-of-band software does.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// CanWrite implements backend.Connector.
func (l *Ledger) CanWrite() bool {
	return !l.readOnly
}

// Create implements backend.Connector.
func (l *Ledger) Create(ctx context.Context, postings []ledger.Posting) (backend.ID, error) {
	tx, err := l.begin(ctx)
	if err != nil {
		return "", backend.NewError("create", "", err)
	}

	id := l.newID()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (id) VALUES (?)`, string(id),
	); err != nil {
		return "", l.abort("create", id, err)
	}

	for i, p := range postings {
		date := ""
		if !p.Date.IsZero() {
			date = p.Date.Format(ledger.DateLayout)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_splits
			(transaction_id, position, account, amount, memo, posted_on, currency, cheque_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(id), i, p.Account(), p.Amount.String(), p.Memo, date, p.Currency, p.ChequeNumber,
		); err != nil {
			return "", l.abort("create", id, err)
		}
	}

	l.writes++
	return id, nil
}

// Remove implements backend.Connector.
func (l *Ledger) Remove(ctx context.Context, id backend.ID) error {
	tx, err := l.begin(ctx)
	if err != nil {
		return backend.NewError("remove", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM ledger_transactions WHERE id = ?`, string(id))
	if err != nil {
		return l.abort("remove", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return l.abort("remove", id, err)
	}
	if n == 0 {
		return backend.NewError("remove", id, backend.ErrNotFound)
	}

	l.writes++
	return nil
}

// Verify implements backend.Connector. The splits are read back and compared
// with postings, so edits made by other software are detected. A missing
// transaction, or one whose splits no longer parse, does not verify.
func (l *Ledger) Verify(ctx context.Context, id backend.ID, postings []ledger.Posting) (bool, error) {
	want, err := ledger.Digest(postings)
	if err != nil {
		return false, backend.NewError("verify", id, err)
	}

	have, err := l.Postings(ctx, id)
	if errors.Is(err, backend.ErrNotFound) || errors.Is(err, errMalformedSplit) {
		return false, nil
	}
	if err != nil {
		return false, backend.NewError("verify", id, err)
	}

	got, err := ledger.Digest(have)
	if err != nil {
		return false, nil
	}
	return got == want, nil
}

// Save implements backend.Connector.
func (l *Ledger) Save(context.Context) error {
	if l.tx == nil {
		return nil
	}
	tx := l.tx
	l.tx = nil
	l.writes = 0
	if err := tx.Commit(); err != nil {
		return backend.NewResetError("save", err)
	}
	return nil
}

// Postings reads back the splits of a backend transaction, as the session
// currently sees them.
func (l *Ledger) Postings(ctx context.Context, id backend.ID) ([]ledger.Posting, error) {
	rows, err := l.queryer().QueryContext(ctx, `
		SELECT account, amount, memo, posted_on, currency, cheque_number
		FROM ledger_splits
		WHERE transaction_id = ?
		ORDER BY position ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query splits: %w", err)
	}
	defer rows.Close()

	var postings []ledger.Posting
	for rows.Next() {
		var account, amount, memo, postedOn, cur, cheque string
		if err := rows.Scan(&account, &amount, &memo, &postedOn, &cur, &cheque); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		p, err := splitToPosting(account, amount, memo, postedOn, cur, cheque)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate splits: %w", err)
	}
	if postings == nil {
		return nil, fmt.Errorf("postings %s: %w", id, backend.ErrNotFound)
	}
	return postings, nil
}

// IDs lists the backend transaction ids the session currently sees.
func (l *Ledger) IDs(ctx context.Context) ([]backend.ID, error) {
	rows, err := l.queryer().QueryContext(ctx, `SELECT id FROM ledger_transactions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []backend.ID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, backend.ID(id))
	}
	return ids, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryer reads through the open transaction when there is one; the single
// pooled connection belongs to it.
func (l *Ledger) queryer() queryer {
	if l.tx != nil {
		return l.tx
	}
	return l.db
}

func (l *Ledger) begin(ctx context.Context) (*sql.Tx, error) {
	if l.tx != nil {
		return l.tx, nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	l.tx = tx
	return tx, nil
}

// abort rolls back the session after a failed write.
func (l *Ledger) abort(op string, id backend.ID, err error) error {
	lost := l.writes
	if l.tx != nil {
		_ = l.tx.Rollback()
	}
	l.tx = nil
	l.writes = 0
	if lost > 0 {
		return backend.NewResetError(op, fmt.Errorf("%d buffered writes lost: %w", lost, err))
	}
	return backend.NewError(op, id, err)
}

// errMalformedSplit marks a stored split that no longer parses.
var errMalformedSplit = errors.New("malformed split")

func splitToPosting(account, amount, memo, postedOn, cur, cheque string) (ledger.Posting, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Posting{}, fmt.Errorf("%w: amount %q: %v", errMalformedSplit, amount, err)
	}
	var date time.Time
	if postedOn != "" {
		date, err = time.Parse(ledger.DateLayout, postedOn)
		if err != nil {
			return ledger.Posting{}, fmt.Errorf("%w: date %q: %v", errMalformedSplit, postedOn, err)
		}
	}
	return ledger.Posting{
		AccountPath:  strings.Split(account, ledger.AccountSeparator),
		Amount:       amt,
		Memo:         memo,
		Date:         date,
		Currency:     cur,
		ChequeNumber: cheque,
	}, nil
}
