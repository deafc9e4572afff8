package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
transactions:
  - id: inv-1
    lines:
      - {account: "Assets:Cash", amount: "1.00", currency: USD, date: "2026-03-04"}
      - {account: "Income", amount: "-1.00", currency: USD, date: "2026-03-04"}
steps:
  - op: mark_dirty
    id: inv-1
  - op: fault
    fault: {op: remove, kind: error, backend_id: "1", times: 2}
  - op: flush
assertions:
  - type: call_count
    call: create
    count: 1
`

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	require.Len(t, scenario.Transactions, 1)
	assert.Equal(t, "2026-03-04", scenario.Transactions[0].Lines[0].Date)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, OpMarkDirty, scenario.Steps[0].Op)
	require.NotNil(t, scenario.Steps[1].Fault)
	assert.Equal(t, 2, scenario.Steps[1].Fault.Times)
	assert.Equal(t, "1", scenario.Steps[1].Fault.BackendID)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertCallCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown field",
			content: `
name: typo
description: "d"
stepz: []
steps:
  - op: flush
`,
		},
		{
			name: "unknown op",
			content: `
name: bad_op
description: "d"
steps:
  - op: explode
`,
		},
		{
			name: "numeric amount",
			content: `
name: numeric
description: "d"
transactions:
  - id: inv-1
    lines:
      - {account: "Assets:Cash", amount: 1.00}
steps:
  - op: flush
`,
		},
		{
			name: "bad name",
			content: `
name: "Has Spaces"
description: "d"
steps:
  - op: flush
`,
		},
		{
			name: "no steps",
			content: `
name: empty
description: "d"
steps: []
`,
		},
		{
			name: "bad fault kind",
			content: `
name: fault
description: "d"
steps:
  - op: fault
    fault: {op: save, kind: explode}
`,
		},
		{
			name: "bad expected state",
			content: `
name: state
description: "d"
steps:
  - op: expect
    id: inv-1
    want: {state: Deleted}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "scenario does not match schema")
		})
	}
}

func TestParseScenario_CrossReferences(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "unknown transaction",
			content: `
name: x
description: "d"
steps:
  - op: mark_dirty
    id: inv-9
`,
			want: `unknown transaction "inv-9"`,
		},
		{
			name: "duplicate transaction",
			content: `
name: x
description: "d"
transactions:
  - {id: a, lines: []}
  - {id: a, lines: []}
steps:
  - op: flush
`,
			want: `duplicate id "a"`,
		},
		{
			name: "expect without target",
			content: `
name: x
description: "d"
steps:
  - op: expect
    want: {clean: true}
`,
			want: "id or want.committed is required",
		},
		{
			name: "sequence without calls",
			content: `
name: x
description: "d"
steps:
  - op: flush
assertions:
  - type: call_sequence
`,
			want: "call_sequence requires calls",
		},
		{
			name: "missing description",
			content: `
name: x
steps:
  - op: flush
`,
			want: "description is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: x
description: "d"
steps:
  - op: flush
    wants: {save: ok}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_EmptyListsAreKept(t *testing.T) {
	scenario := mustParse(t, `
name: x
description: "d"
steps:
  - op: expect
    want: {committed: []}
`)
	require.NotNil(t, scenario.Steps[0].Want.Committed)
	assert.Empty(t, scenario.Steps[0].Want.Committed)
}

func TestValidateScenario_TestdataPasses(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NoError(t, ValidateScenario(path, data), path)
	}
}
