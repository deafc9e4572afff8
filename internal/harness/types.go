package harness

// TraceEvent records what one scenario step did.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`
	ID   string `json:"id,omitempty"`

	// Calls are the connector calls made during the step.
	Calls []string `json:"calls,omitempty"`

	// Transitions are the rules fired during the step, one line each:
	// "<id> <from> --<rule>--> <to>", followed by the error code when set.
	Transitions []string `json:"transitions,omitempty"`

	// Flush summarises a flush step.
	Flush *FlushSummary `json:"flush,omitempty"`

	// Error is the engine error code the step failed with.
	Error string `json:"error,omitempty"`
}

// FlushSummary is the deterministic part of an engine.FlushReport.
type FlushSummary struct {
	Save      string   `json:"save"`
	Forgotten []string `json:"forgotten,omitempty"`
	Held      []string `json:"held,omitempty"`
	Dirty     []string `json:"dirty,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step.
	Trace []TraceEvent `json:"trace"`

	// Calls is the full connector call log.
	Calls []string `json:"calls"`

	// Errors lists every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Calls:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
