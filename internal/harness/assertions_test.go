package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleCalls = []string{"create()->1", "save()", "verify(1)", "remove(1)", "save()"}

func TestAssertCallSequence(t *testing.T) {
	tests := []struct {
		name  string
		calls []string
		ok    bool
	}{
		{"contiguous", []string{"verify(1)", "remove(1)", "save()"}, true},
		{"gaps allowed", []string{"create()->1", "remove(1)"}, true},
		{"repeated call", []string{"save()", "save()"}, true},
		{"wrong order", []string{"remove(1)", "verify(1)"}, false},
		{"missing", []string{"create()->2"}, false},
		{"too many", []string{"save()", "save()", "save()"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertCallSequence(sampleCalls, Assertion{Type: AssertCallSequence, Calls: tt.calls})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, AssertCallSequence, aerr.Type)
		})
	}
}

func TestAssertCallCount(t *testing.T) {
	assert.NoError(t, assertCallCount(sampleCalls, Assertion{Call: "save", Count: 2}))
	assert.NoError(t, assertCallCount(sampleCalls, Assertion{Call: "create", Count: 1}))

	err := assertCallCount(sampleCalls, Assertion{Call: "save", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 calls to save")
	assert.Contains(t, err.Error(), "2 calls")
}

func TestAssertCallAbsent(t *testing.T) {
	assert.NoError(t, assertCallAbsent(sampleCalls, Assertion{Call: "update"}))
	assert.Error(t, assertCallAbsent(sampleCalls, Assertion{Call: "remove"}))
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCallAbsent,
		Expected: "no calls to remove",
		Actual:   "1 calls",
		Calls:    []string{"remove(1)"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: call_absent")
	assert.Contains(t, msg, "Expected: no calls to remove")
	assert.Contains(t, msg, "[1] remove(1)")
}

func TestEvaluateAssertions(t *testing.T) {
	errs := EvaluateAssertions(sampleCalls, []Assertion{
		{Type: AssertCallCount, Call: "save", Count: 2},
		{Type: AssertCallAbsent, Call: "remove"},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1")
	assert.Contains(t, errs[1], "unknown assertion type: bogus")
}
