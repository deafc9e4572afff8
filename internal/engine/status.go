package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/ledgersync/internal/backend"
)

// Status is a copy of the reconciliation status of one transaction.
type Status struct {
	ID         string       `json:"id"`
	State      State        `json:"state"`
	BackendIDs []backend.ID `json:"backend_ids"`
	Code       ErrorCode    `json:"code"`
	Message    string       `json:"message,omitempty"`
	Pending    *Input       `json:"pending,omitempty"`
	Held       bool         `json:"held"`
	Clean      bool         `json:"clean"`
}

// IsClean reports whether id has nothing pending and is not held.
func (e *Engine) IsClean(id string) (bool, error) {
	if _, ok := e.machines[id]; !ok {
		return false, errUnknownID(id)
	}
	return e.isClean(id), nil
}

func (e *Engine) isClean(id string) bool {
	_, dirty := e.dirty[id]
	_, held := e.held[id]
	return !dirty && !held
}

// ReasonDirty explains why id is not clean: either its error or the command
// waiting for the next flush.
func (e *Engine) ReasonDirty(id string) (string, error) {
	r, ok := e.machines[id]
	if !ok {
		return "", errUnknownID(id)
	}
	if e.isClean(id) {
		return "", newError(ErrCodeNotDirty, id, "transaction is clean")
	}
	if r.code != CodeNone {
		return fmt.Sprintf("error code: %s--%s, %s", r.code, r.code.Description(), r.message), nil
	}
	if cmd, pending := e.dirty[id]; pending {
		return fmt.Sprintf("reason dirty: %s", cmd), nil
	}
	return "reason dirty: held", nil
}

// Status returns a copy of the status of id.
func (e *Engine) Status(id string) (Status, error) {
	r, ok := e.machines[id]
	if !ok {
		return Status{}, errUnknownID(id)
	}
	return e.status(r), nil
}

func (e *Engine) status(r *record) Status {
	s := Status{
		ID:         r.id,
		State:      r.state,
		BackendIDs: slices.Clone(r.backendIDs),
		Code:       r.code,
		Message:    r.message,
		Clean:      e.isClean(r.id),
	}
	if s.BackendIDs == nil {
		s.BackendIDs = []backend.ID{}
	}
	if cmd, pending := e.dirty[r.id]; pending {
		s.Pending = &cmd
	}
	_, s.Held = e.held[r.id]
	return s
}

// IDs returns every known front-end id in ascending order.
func (e *Engine) IDs() []string {
	ids := make([]string, 0, len(e.machines))
	for id := range e.machines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
