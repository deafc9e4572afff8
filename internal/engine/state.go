package engine

import "fmt"

// State is a reconciliation state of one front-end transaction.
type State int

const (
	// NoBackendExists is the initial state: nothing has been written yet.
	NoBackendExists State = iota
	// CreationTried means a create was issued and awaits the next save.
	CreationTried
	// Synced means backend and front end agree.
	Synced
	// OutOfSync is a known divergence, replaced on the next drive unless held.
	OutOfSync
	// OldToBeRemoved is transient: verification passed, the old copy is removed next.
	OldToBeRemoved
	// VerifyRequested is a verify-only request awaiting the save.
	VerifyRequested
	// HeldWaitSave means verification failed and the save has not settled yet.
	HeldWaitSave
	// Held is parked until an operator verifies again or forces removal.
	Held

	numStates
)

var stateNames = [numStates]string{
	NoBackendExists: "NoBackendExists",
	CreationTried:   "CreationTried",
	Synced:          "Synced",
	OutOfSync:       "OutOfSync",
	OldToBeRemoved:  "OldToBeRemoved",
	VerifyRequested: "VerifyRequested",
	HeldWaitSave:    "HeldWaitSave",
	Held:            "Held",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s >= 0 && s < numStates
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// Input drives a state machine. Commands come from the dirty set; the
// LastAct inputs tell the machine what the engine did last.
type Input int

const (
	LastActNone Input = iota
	LastActSave
	Recreate
	VerificationRequested
	LeaveAloneRequested
	BlowoutRequested
	SafeRemoveRequested

	numInputs
)

var inputNames = [numInputs]string{
	LastActNone:           "LastActNone",
	LastActSave:           "LastActSave",
	Recreate:              "Recreate",
	VerificationRequested: "VerificationRequested",
	LeaveAloneRequested:   "LeaveAloneRequested",
	BlowoutRequested:      "BlowoutRequested",
	SafeRemoveRequested:   "SafeRemoveRequested",
}

func (in Input) String() string {
	if in < 0 || in >= numInputs {
		return fmt.Sprintf("Input(%d)", int(in))
	}
	return inputNames[in]
}

// IsCommand reports whether in is a caller command rather than a LastAct input.
func (in Input) IsCommand() bool {
	return in >= Recreate && in < numInputs
}

// MarshalText encodes the input by name.
func (in Input) MarshalText() ([]byte, error) {
	if in < 0 || in >= numInputs {
		return nil, fmt.Errorf("invalid input %d", int(in))
	}
	return []byte(in.String()), nil
}

// UnmarshalText decodes an input name.
func (in *Input) UnmarshalText(text []byte) error {
	v, err := ParseInput(string(text))
	if err != nil {
		return err
	}
	*in = v
	return nil
}

// ParseInput returns the input with the given name.
func ParseInput(name string) (Input, error) {
	for i, n := range inputNames {
		if n == name {
			return Input(i), nil
		}
	}
	return 0, fmt.Errorf("unknown input %q", name)
}

// ErrorCode classifies why a transaction failed to reconcile.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	// CodeOther is a generic failure, retried on the next flush.
	CodeOther
	// CodeVerifyFailed means the backend no longer matches; never retried automatically.
	CodeVerifyFailed
	// CodeCanNotRemove keeps the old backend ids and retries the removal.
	CodeCanNotRemove
	// CodeReset means the backend lost its uncommitted writes.
	CodeReset

	numCodes
)

var codeNames = [numCodes]string{
	CodeNone:         "None",
	CodeOther:        "Other",
	CodeVerifyFailed: "VerifyFailed",
	CodeCanNotRemove: "CanNotRemove",
	CodeReset:        "Reset",
}

var codeDescriptions = [numCodes]string{
	CodeNone:         "no error",
	CodeOther:        "backend operation failed",
	CodeVerifyFailed: "backend data does not match what was written",
	CodeCanNotRemove: "backend transaction could not be removed",
	CodeReset:        "backend lost uncommitted writes",
}

func (c ErrorCode) String() string {
	if c < 0 || c >= numCodes {
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
	return codeNames[c]
}

// Description is a short human-readable explanation of the code.
func (c ErrorCode) Description() string {
	if c < 0 || c >= numCodes {
		return "unknown error"
	}
	return codeDescriptions[c]
}

// MarshalText encodes the code by name.
func (c ErrorCode) MarshalText() ([]byte, error) {
	if c < 0 || c >= numCodes {
		return nil, fmt.Errorf("invalid error code %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a code name.
func (c *ErrorCode) UnmarshalText(text []byte) error {
	v, err := ParseErrorCode(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseErrorCode returns the code with the given name.
func ParseErrorCode(name string) (ErrorCode, error) {
	for i, n := range codeNames {
		if n == name {
			return ErrorCode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown error code %q", name)
}
