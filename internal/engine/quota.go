package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer bounds the number of steps a single drive may take.
//
// Every rule in the transition table either changes the state or the error
// code, so a drive normally settles in a handful of steps. The quota turns a
// table bug into a recorded error instead of a hang.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one step and fails once the limit is passed.
func (q *QuotaEnforcer) Check(id string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			ID:    id,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Current returns the step count so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is recorded on a transaction whose drive did not settle.
type StepsExceededError struct {
	ID    string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("drive of %s exceeded max steps quota: %d steps > %d limit",
		e.ID, e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
