package dstore

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStateMachine(t *testing.T) *KVStateMachine {
	factory := CreateStateMachineFactory(func() db.KVDB { return maple.NewMapleDB(nil) })
	fsm := factory(1, 1).(*KVStateMachine)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

// propose applies one command the way dragonboat would after commit.
func propose(t *testing.T, fsm *KVStateMachine, ts uint64, batch *store.Batch) []store.Result {
	t.Helper()
	cmd := internal.Command{Timestamp: ts, Ops: batch.Ops}
	entries, err := fsm.Update([]sm.Entry{{Index: 1, Cmd: cmd.Serialize()}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(store.RetCSuccess), entries[0].Result.Value, string(entries[0].Result.Data))

	results, n, err := store.ReadResults(entries[0].Result.Data)
	require.NoError(t, err)
	require.Equal(t, len(entries[0].Result.Data), n)
	require.Len(t, results, batch.Len())
	return results
}

func TestUpdateAppliesBatch(t *testing.T) {
	fsm := newStateMachine(t)

	res := propose(t, fsm, 1_000, store.NewBatch().
		SetEIfUnset("read:job:t1", []byte("1"), 240*time.Second).
		Get("write:job"))
	assert.True(t, res[0].Ok)
	assert.False(t, res[1].Ok)

	res = propose(t, fsm, 1_001, store.NewBatch().
		SetEIfUnset("write:job", []byte("t2"), 30*time.Second).
		Keys("read:job:"))
	assert.True(t, res[0].Ok)
	assert.Equal(t, []string{"read:job:t1"}, res[1].Keys)
}

func TestUpdateUsesCommandTimestamp(t *testing.T) {
	fsm := newStateMachine(t)

	propose(t, fsm, 10_000, store.NewBatch().SetE("k", []byte("v"), 50*time.Millisecond))
	assert.Equal(t, uint64(10_000), fsm.database.WriteIdx())

	// before the deadline
	res := propose(t, fsm, 10_049, store.NewBatch().Has("k"))
	assert.True(t, res[0].Ok)

	// deadline reached
	res = propose(t, fsm, 10_050, store.NewBatch().Has("k"))
	assert.False(t, res[0].Ok)
}

func TestUpdateIndexNeverGoesBack(t *testing.T) {
	fsm := newStateMachine(t)

	propose(t, fsm, 5_000, store.NewBatch().Set("a", []byte("1")))

	// a proposer with a lagging clock still moves the index forward
	propose(t, fsm, 10, store.NewBatch().Set("a", []byte("2")))
	assert.Equal(t, uint64(5_001), fsm.database.WriteIdx())

	res := propose(t, fsm, 0, store.NewBatch().Get("a"))
	assert.Equal(t, []byte("2"), res[0].Value)
}

func TestUpdateRejectsInvalidCommands(t *testing.T) {
	fsm := newStateMachine(t)

	valid := (&internal.Command{Timestamp: 1, Ops: store.NewBatch().Get("k").Ops}).Serialize()
	empty := (&internal.Command{Timestamp: 1, Ops: []store.Op{}}).Serialize()
	badOp := (&internal.Command{Timestamp: 1, Ops: []store.Op{{Type: 200, Key: "k"}}}).Serialize()

	tests := []struct {
		name string
		data []byte
		code store.RetCode
	}{
		{"no data", nil, store.RetCInvalidOperation},
		{"garbage", valid[:len(valid)-2], store.RetCInternalError},
		{"empty batch", empty, store.RetCInvalidOperation},
		{"unknown op", badOp, store.RetCInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := fsm.Update([]sm.Entry{{Index: 1, Cmd: tt.data}})
			require.NoError(t, err)
			assert.Equal(t, uint64(tt.code), entries[0].Result.Value)
			assert.NotEmpty(t, entries[0].Result.Data)
		})
	}

	// rejected commands must not touch the index
	assert.Equal(t, uint64(0), fsm.database.WriteIdx())
}

func TestLookup(t *testing.T) {
	fsm := newStateMachine(t)
	propose(t, fsm, 77, store.NewBatch().Set("k", []byte("v")))

	info, err := fsm.Lookup(internal.Query{Type: internal.QueryTGetDBInfo})
	require.NoError(t, err)
	assert.Equal(t, db.ImplMaple, info.(db.DatabaseInfo).DbType)

	idx, err := fsm.Lookup(internal.Query{Type: internal.QueryTWriteIdx})
	require.NoError(t, err)
	assert.Equal(t, uint64(77), idx)

	_, err = fsm.Lookup("not a query")
	assert.Error(t, err)

	_, err = fsm.Lookup(internal.Query{Type: 99})
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	fsm := newStateMachine(t)
	propose(t, fsm, 1_000, store.NewBatch().
		Set("plain", []byte("p")).
		SetE("expiring", []byte("e"), time.Minute))

	var buf bytes.Buffer
	require.NoError(t, fsm.SaveSnapshot(nil, &buf, nil, nil))

	restored := newStateMachine(t)
	require.NoError(t, restored.RecoverFromSnapshot(&buf, nil, nil))
	assert.Equal(t, uint64(1_000), restored.database.WriteIdx())

	res := propose(t, restored, 1_001, store.NewBatch().Get("plain").Get("expiring"))
	assert.Equal(t, []byte("p"), res[0].Value)
	assert.Equal(t, []byte("e"), res[1].Value)

	res = propose(t, restored, 1_000+60_000, store.NewBatch().Has("expiring"))
	assert.False(t, res[0].Ok)
}
