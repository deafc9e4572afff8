package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/backend"
	"github.com/roach88/ledgersync/internal/ledger"
	"github.com/roach88/ledgersync/internal/testutil"
)

func resolverFor(txns map[string]ledger.Transaction) Resolver {
	return func(id string) (ledger.Transaction, error) {
		txn, ok := txns[id]
		if !ok {
			return nil, errors.New("no such transaction")
		}
		return txn, nil
	}
}

func TestSnapshot_RestoreContinuesWork(t *testing.T) {
	e, conn, txn := syncedEngine(t)
	require.NoError(t, e.MarkDirty("inv-2", plainTxn("2")))
	require.NoError(t, conn.Inject(testutil.Fault{Op: "create", Kind: testutil.FaultError, Times: 1}))
	mustFlush(t, e)

	snap := e.Snapshot()
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "inv-1", snap.Records[0].ID)
	assert.Equal(t, Synced, snap.Records[0].State)
	assert.Contains(t, snap.Records[0].Written, backend.ID("1"))
	require.NotNil(t, snap.Records[1].Pending)
	assert.Equal(t, Recreate, *snap.Records[1].Pending)
	assert.Equal(t, CodeOther, snap.Records[1].Code)

	restored := New(conn, WithLogger(discardLogger()), WithFlushIDGenerator(testutil.NewSequentialFlushIDs("r")))
	require.NoError(t, restored.Restore(snap, resolverFor(map[string]ledger.Transaction{
		"inv-1": txn,
		"inv-2": plainTxn("2"),
	})))

	assert.Equal(t, []string{"inv-1", "inv-2"}, restored.IDs())
	assertClean(t, restored, "inv-1", true)
	assertClean(t, restored, "inv-2", false)

	conn.ResetCalls()
	require.NoError(t, restored.MarkForRemoval("inv-1"))
	report := mustFlush(t, restored)

	assert.Equal(t, int64(snap.Seq+1), report.Seq)
	assert.Equal(t, []string{"verify(1)", "remove(1)", "create()->2", "save()"}, conn.Calls(),
		"written postings survive the restore")
	assertClean(t, restored, "inv-2", true)
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	e, _ := heldEngine(t)
	snap := e.Snapshot()

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"Held"`)
	assert.Contains(t, string(data), `"code":"VerifyFailed"`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Records, 1)
	assert.Equal(t, Held, back.Records[0].State)
	assert.True(t, back.Records[0].Held)
	assert.Equal(t, snap.Records[0].BackendIDs, back.Records[0].BackendIDs)

	postings := back.Records[0].Written["1"]
	require.Len(t, postings, 2)
	assert.Equal(t, ledger.MustDigest(snap.Records[0].Written["1"]), ledger.MustDigest(postings))
}

func TestRestore_Rejects(t *testing.T) {
	recreate := Recreate
	lastAct := LastActSave
	resolve := resolverFor(map[string]ledger.Transaction{"a": plainTxn("1")})

	tests := []struct {
		name string
		snap Snapshot
	}{
		{"dirty and held", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: Held, BackendIDs: []backend.ID{"1"}, Pending: &recreate, Held: true},
		}}},
		{"pending is not a command", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: Synced, BackendIDs: []backend.ID{"1"}, Pending: &lastAct},
		}}},
		{"synced without ids", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: Synced},
		}}},
		{"duplicate", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: NoBackendExists, Pending: &recreate},
			{ID: "a", State: NoBackendExists, Pending: &recreate},
		}}},
		{"invalid state", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: State(99), BackendIDs: []backend.ID{"1"}},
		}}},
		{"error on clean record", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: OutOfSync, BackendIDs: []backend.ID{"1"}, Code: CodeOther},
		}}},
		{"written for unknown id", Snapshot{Records: []RecordSnapshot{
			{ID: "a", State: Synced, BackendIDs: []backend.ID{"1"}, Written: map[backend.ID][]ledger.Posting{"9": nil}},
		}}},
		{"missing id", Snapshot{Records: []RecordSnapshot{{State: NoBackendExists}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setupEngine(t)
			err := e.Restore(tt.snap, resolve)
			require.Error(t, err)
			assert.True(t, IsInvalidSnapshot(err), err.Error())
			assert.Empty(t, e.IDs())
		})
	}
}

func TestRestore_RequiresEmptyEngine(t *testing.T) {
	e, _, _ := syncedEngine(t)
	err := e.Restore(Snapshot{}, resolverFor(nil))
	assert.True(t, IsInvalidState(err))
}

func TestRestore_ResolverFailure(t *testing.T) {
	recreate := Recreate
	e, _ := setupEngine(t)
	err := e.Restore(Snapshot{Records: []RecordSnapshot{
		{ID: "gone", State: NoBackendExists, Pending: &recreate},
	}}, resolverFor(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve gone")
	assert.Empty(t, e.IDs())
}

func TestRestore_AfterClose(t *testing.T) {
	e, _ := setupEngine(t)
	require.NoError(t, e.Close(context.Background(), "bye"))
	assert.True(t, IsClosed(e.Restore(Snapshot{}, resolverFor(nil))))
}
