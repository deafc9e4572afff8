package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// AccountSeparator joins account path segments in their textual form.
const AccountSeparator = ":"

// Posting is one line of a double-entry transaction.
type Posting struct {
	AccountPath  []string        `json:"account_path"`
	Amount       decimal.Decimal `json:"amount"`
	Memo         string          `json:"memo,omitempty"`
	Date         time.Time       `json:"date"`
	Currency     string          `json:"currency,omitempty"`
	ChequeNumber string          `json:"cheque_number,omitempty"`
}

// Account returns the account path joined with AccountSeparator.
func (p Posting) Account() string {
	return strings.Join(p.AccountPath, AccountSeparator)
}

// ParseAccount splits a textual account into its path segments.
// Surrounding whitespace is trimmed from every segment.
func ParseAccount(account string) []string {
	parts := strings.Split(account, AccountSeparator)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// Transaction is a front-end transaction: the source of truth for what the
// backend should hold.
type Transaction interface {
	// Postings returns the lines to synchronize, or a NotRepresentableError
	// when the transaction cannot be expressed in the backend.
	Postings() ([]Posting, error)
}

// NotRepresentableError reports a transaction that cannot be expressed as a
// list of valid postings.
type NotRepresentableError struct {
	// Line is the offending posting index, or -1 for the whole transaction.
	Line   int
	Reason string
	Err    error
}

func (e *NotRepresentableError) Error() string {
	msg := "transaction not representable"
	if e.Line >= 0 {
		msg = fmt.Sprintf("%s: line %d", msg, e.Line)
	}
	if e.Reason != "" {
		msg = msg + ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *NotRepresentableError) Unwrap() error {
	return e.Err
}

// NotRepresentable creates a NotRepresentableError for the whole transaction.
func NotRepresentable(reason string) *NotRepresentableError {
	return &NotRepresentableError{Line: -1, Reason: reason}
}

// IsNotRepresentable returns true if err is or wraps a NotRepresentableError.
func IsNotRepresentable(err error) bool {
	var nr *NotRepresentableError
	return errors.As(err, &nr)
}

// Collect asks txn for its postings and validates them.
//
// Every failure is reported as a NotRepresentableError, including a nil
// transaction and a producer that panics, so callers can treat the result as a
// plain domain error.
func Collect(txn Transaction) (postings []Posting, err error) {
	if txn == nil {
		return nil, NotRepresentable("no transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			postings = nil
			err = &NotRepresentableError{Line: -1, Reason: fmt.Sprintf("producer failed: %v", r)}
		}
	}()

	postings, err = txn.Postings()
	if err != nil {
		if IsNotRepresentable(err) {
			return nil, err
		}
		return nil, &NotRepresentableError{Line: -1, Err: err}
	}
	if len(postings) == 0 {
		return nil, NotRepresentable("no postings")
	}

	for i, p := range postings {
		if err := validatePosting(p); err != nil {
			return nil, &NotRepresentableError{Line: i, Err: err}
		}
	}

	return postings, nil
}

func validatePosting(p Posting) error {
	if len(p.AccountPath) == 0 {
		return errors.New("empty account path")
	}
	for _, seg := range p.AccountPath {
		if seg == "" {
			return fmt.Errorf("empty segment in account %q", p.Account())
		}
	}
	if p.Currency != "" {
		if _, err := currency.ParseISO(p.Currency); err != nil {
			return fmt.Errorf("currency %q: %w", p.Currency, err)
		}
	}
	return nil
}
