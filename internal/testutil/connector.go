package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/backend/memory"
	"github.com/roach88/ledgersync/internal/ledger"
)

// FaultKind selects how an injected fault behaves.
type FaultKind string

const (
	// FaultError fails the call with a plain backend error.
	FaultError FaultKind = "error"
	// FaultReset drops every buffered write and fails with a reset.
	FaultReset FaultKind = "reset"
	// FaultMismatch makes verify report false. Only valid for verify.
	FaultMismatch FaultKind = "mismatch"
)

// ErrInjected is wrapped by every plain error fault.
var ErrInjected = errors.New("injected fault")

// Fault is one scripted failure.
type Fault struct {
	Op   string     // create, remove, verify or save
	Kind FaultKind  // error, reset or mismatch
	ID   backend.ID // only for calls on this backend id; empty matches all
	// Times is how many calls fail. Zero or less fails every matching call.
	Times int
}

// ScriptedConnector wraps an in-memory ledger with scripted faults and a
// call log.
//
// The log uses one line per call: "create()->1", "verify(1)", "remove(1)",
// "save()". Failed calls end in "!error" or "!reset", failed verifications in
// "->false".
type ScriptedConnector struct {
	Ledger *memory.Ledger

	faults []*Fault
	calls  []string
	closed bool
}

// NewScriptedConnector creates a connector over a fresh in-memory ledger.
func NewScriptedConnector(opts ...memory.Option) *ScriptedConnector {
	return &ScriptedConnector{Ledger: memory.New(opts...)}
}

// Inject adds a fault.
func (c *ScriptedConnector) Inject(f Fault) error {
	switch f.Op {
	case "create", "remove", "verify", "save":
	default:
		return fmt.Errorf("unknown fault op %q", f.Op)
	}
	switch f.Kind {
	case FaultError, FaultReset:
	case FaultMismatch:
		if f.Op != "verify" {
			return fmt.Errorf("mismatch fault only applies to verify, not %s", f.Op)
		}
	default:
		return fmt.Errorf("unknown fault kind %q", f.Kind)
	}
	c.faults = append(c.faults, &f)
	return nil
}

// ClearFaults removes every pending fault.
func (c *ScriptedConnector) ClearFaults() {
	c.faults = nil
}

// Calls returns a copy of the call log.
func (c *ScriptedConnector) Calls() []string {
	return append([]string{}, c.calls...)
}

// ResetCalls empties the call log.
func (c *ScriptedConnector) ResetCalls() {
	c.calls = nil
}

// Count returns how many logged calls were made to op.
func (c *ScriptedConnector) Count(op string) int {
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, op+"(") {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (c *ScriptedConnector) Closed() bool {
	return c.closed
}

// Close implements io.Closer.
func (c *ScriptedConnector) Close() error {
	c.closed = true
	return nil
}

// CanWrite implements backend.Connector.
func (c *ScriptedConnector) CanWrite() bool {
	return c.Ledger.CanWrite()
}

// Create implements backend.Connector.
func (c *ScriptedConnector) Create(ctx context.Context, postings []ledger.Posting) (backend.ID, error) {
	if err := c.inject("create", ""); err != nil {
		return "", err
	}
	id, err := c.Ledger.Create(ctx, postings)
	if err != nil {
		c.log("create()!error")
		return "", err
	}
	c.log(fmt.Sprintf("create()->%s", id))
	return id, nil
}

// Remove implements backend.Connector.
func (c *ScriptedConnector) Remove(ctx context.Context, id backend.ID) error {
	if err := c.inject("remove", id); err != nil {
		return err
	}
	if err := c.Ledger.Remove(ctx, id); err != nil {
		c.log(fmt.Sprintf("remove(%s)!error", id))
		return err
	}
	c.log(fmt.Sprintf("remove(%s)", id))
	return nil
}

// Verify implements backend.Connector.
func (c *ScriptedConnector) Verify(ctx context.Context, id backend.ID, postings []ledger.Posting) (bool, error) {
	if f := c.match("verify", id); f != nil && f.Kind == FaultMismatch {
		c.log(fmt.Sprintf("verify(%s)->false", id))
		return false, nil
	} else if f != nil {
		return false, c.fire(f, "verify", id)
	}

	ok, err := c.Ledger.Verify(ctx, id, postings)
	if err != nil {
		c.log(fmt.Sprintf("verify(%s)!error", id))
		return false, err
	}
	if !ok {
		c.log(fmt.Sprintf("verify(%s)->false", id))
		return false, nil
	}
	c.log(fmt.Sprintf("verify(%s)", id))
	return true, nil
}

// Save implements backend.Connector.
func (c *ScriptedConnector) Save(ctx context.Context) error {
	if err := c.inject("save", ""); err != nil {
		return err
	}
	if err := c.Ledger.Save(ctx); err != nil {
		c.log("save()!error")
		return err
	}
	c.log("save()")
	return nil
}

func (c *ScriptedConnector) inject(op string, id backend.ID) error {
	if f := c.match(op, id); f != nil {
		return c.fire(f, op, id)
	}
	return nil
}

// match finds the first fault for op and id and consumes one use of it.
func (c *ScriptedConnector) match(op string, id backend.ID) *Fault {
	for i, f := range c.faults {
		if f.Op != op || (f.ID != "" && f.ID != id) {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				c.faults = append(c.faults[:i], c.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

func (c *ScriptedConnector) fire(f *Fault, op string, id backend.ID) error {
	call := op + "()"
	if id != "" {
		call = fmt.Sprintf("%s(%s)", op, id)
	}
	if f.Kind == FaultReset {
		lost := c.Ledger.DropPending()
		c.log(call + "!reset")
		return backend.NewResetError(op, fmt.Errorf("%d buffered writes lost", lost))
	}
	c.log(call + "!error")
	return backend.NewError(op, id, ErrInjected)
}

func (c *ScriptedConnector) log(call string) {
	c.calls = append(c.calls, call)
}
