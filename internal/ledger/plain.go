package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the textual date format accepted by Plain lines.
const DateLayout = "2006-01-02"

// Line is a textual posting as it appears in a journal or scenario file.
type Line struct {
	Account      string `yaml:"account" json:"account"`
	Amount       string `yaml:"amount" json:"amount"`
	Memo         string `yaml:"memo,omitempty" json:"memo,omitempty"`
	Date         string `yaml:"date,omitempty" json:"date,omitempty"`
	Currency     string `yaml:"currency,omitempty" json:"currency,omitempty"`
	ChequeNumber string `yaml:"cheque,omitempty" json:"cheque,omitempty"`
}

// Plain is a plain accounting object: a list of textual lines turned into
// postings on demand.
//
// A *Plain is the reference the engine holds. Editing it in place through
// SetLines keeps the same reference, so the engine sees an edit, not a
// different transaction.
type Plain struct {
	lines []Line
}

// NewPlain creates a Plain transaction from lines. The slice is copied.
func NewPlain(lines ...Line) *Plain {
	p := &Plain{}
	p.SetLines(lines)
	return p
}

// SetLines replaces the lines of the transaction.
func (p *Plain) SetLines(lines []Line) {
	p.lines = append([]Line(nil), lines...)
}

// Lines returns a copy of the current lines.
func (p *Plain) Lines() []Line {
	return append([]Line(nil), p.lines...)
}

// Postings parses every line. A line whose amount is not a fixed-point
// decimal, or whose date is not DateLayout, makes the transaction not
// representable.
func (p *Plain) Postings() ([]Posting, error) {
	postings := make([]Posting, 0, len(p.lines))
	for i, l := range p.lines {
		amount, err := decimal.NewFromString(l.Amount)
		if err != nil {
			return nil, &NotRepresentableError{Line: i, Reason: fmt.Sprintf("amount %q", l.Amount), Err: err}
		}

		var date time.Time
		if l.Date != "" {
			date, err = time.Parse(DateLayout, l.Date)
			if err != nil {
				return nil, &NotRepresentableError{Line: i, Reason: fmt.Sprintf("date %q", l.Date), Err: err}
			}
		}

		postings = append(postings, Posting{
			AccountPath:  ParseAccount(l.Account),
			Amount:       amount,
			Memo:         l.Memo,
			Date:         date,
			Currency:     l.Currency,
			ChequeNumber: l.ChequeNumber,
		})
	}
	return postings, nil
}
