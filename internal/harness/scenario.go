package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgersync/internal/ledger"
)

// Scenario is one reconciliation test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ReadOnly makes the backend refuse writes.
	ReadOnly bool `yaml:"read_only,omitempty"`

	// MaxSteps overrides the engine's per-drive step quota.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Transactions are the front-end transactions steps refer to by id.
	Transactions []Transaction `yaml:"transactions,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated against the full call log after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Transaction is a front-end transaction in a scenario.
type Transaction struct {
	ID    string        `yaml:"id"`
	Lines []ledger.Line `yaml:"lines"`
}

// Step is one operation of a scenario.
type Step struct {
	Op          string        `yaml:"op"`
	ID          string        `yaml:"id,omitempty"`
	BackendID   string        `yaml:"backend_id,omitempty"`
	Lines       []ledger.Line `yaml:"lines,omitempty"`
	Fault       *FaultSpec    `yaml:"fault,omitempty"`
	Reason      string        `yaml:"reason,omitempty"`
	Want        *Want         `yaml:"want,omitempty"`
	ExpectError string        `yaml:"expect_error,omitempty"`
}

// FaultSpec scripts a connector failure.
type FaultSpec struct {
	Op        string `yaml:"op"`
	Kind      string `yaml:"kind"`
	BackendID string `yaml:"backend_id,omitempty"`
	Times     int    `yaml:"times,omitempty"`
}

// Want lists the expected status after a step. Only set fields are checked.
type Want struct {
	Known      *bool    `yaml:"known,omitempty"`
	Clean      *bool    `yaml:"clean,omitempty"`
	Held       *bool    `yaml:"held,omitempty"`
	State      string   `yaml:"state,omitempty"`
	Code       string   `yaml:"code,omitempty"`
	Reason     string   `yaml:"reason,omitempty"`
	BackendIDs []string `yaml:"backend_ids,omitempty"`
	Committed  []string `yaml:"committed,omitempty"`
	Save       string   `yaml:"save,omitempty"`
}

// Assertion validates the call log.
type Assertion struct {
	// Type is one of call_sequence, call_count, call_absent.
	Type string `yaml:"type"`

	// Calls are the expected calls, in order (call_sequence).
	Calls []string `yaml:"calls,omitempty"`

	// Call is the connector operation name (call_count, call_absent).
	Call string `yaml:"call,omitempty"`

	// Count is the expected number of calls (call_count).
	Count int `yaml:"count,omitempty"`
}

// Step op constants.
const (
	OpMarkDirty            = "mark_dirty"
	OpMarkForRemoval       = "mark_for_removal"
	OpMarkForVerification  = "mark_for_verification"
	OpMarkForHold          = "mark_for_hold"
	OpMarkForForcedRemoval = "mark_for_forced_removal"
	OpFlush                = "flush"
	OpClose                = "close"
	OpEdit                 = "edit"
	OpTamper               = "tamper"
	OpFault                = "fault"
	OpExpect               = "expect"
)

// Assertion type constants.
const (
	AssertCallSequence = "call_sequence"
	AssertCallCount    = "call_count"
	AssertCallAbsent   = "call_absent"
)

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	if err := ValidateScenario(path, data); err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML and checks cross-references the schema
// cannot express.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Transactions))
	for i, txn := range s.Transactions {
		if txn.ID == "" {
			return fmt.Errorf("transactions[%d]: id is required", i)
		}
		if known[txn.ID] {
			return fmt.Errorf("transactions[%d]: duplicate id %q", i, txn.ID)
		}
		known[txn.ID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(step, known); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, known map[string]bool) error {
	switch step.Op {
	case OpMarkDirty, OpEdit:
		if step.ID == "" {
			return fmt.Errorf("id is required")
		}
		if !known[step.ID] && len(step.Lines) == 0 {
			return fmt.Errorf("unknown transaction %q", step.ID)
		}
		if step.Op == OpEdit && len(step.Lines) == 0 {
			return fmt.Errorf("lines are required")
		}
	case OpMarkForRemoval, OpMarkForVerification, OpMarkForHold, OpMarkForForcedRemoval:
		if step.ID == "" {
			return fmt.Errorf("id is required")
		}
	case OpTamper:
		if step.BackendID == "" || len(step.Lines) == 0 {
			return fmt.Errorf("backend_id and lines are required")
		}
	case OpFault:
		if step.Fault == nil {
			return fmt.Errorf("fault is required")
		}
	case OpExpect:
		if step.Want == nil {
			return fmt.Errorf("want is required")
		}
		if step.ID == "" && step.Want.Committed == nil {
			return fmt.Errorf("id or want.committed is required")
		}
	case OpFlush, OpClose:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertCallSequence:
		if len(a.Calls) == 0 {
			return fmt.Errorf("call_sequence requires calls")
		}
	case AssertCallCount, AssertCallAbsent:
		if a.Call == "" {
			return fmt.Errorf("%s requires call", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
