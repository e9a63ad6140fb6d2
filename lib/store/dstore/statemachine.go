package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB // the actual dataStorage
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMachineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
		}
	}
}

// Lookup answers metadata queries. It never changes the write index, which
// is replicated state and may only move through the log.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {

	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	case internal.QueryTWriteIdx:
		return fsm.database.WriteIdx(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update applies committed commands. Each entry holds one batch, the encoded
// []store.Result is returned in Result.Data with Result.Value = RetCSuccess.
// On failure Result.Value holds the RetCode and Result.Data the message.
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *KVStateMachine) apply(data []byte) sm.Result {
	if len(data) == 0 {
		return sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
	}

	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
	}

	if err := (&store.Batch{Ops: cmd.Ops}).Validate(); err != nil {
		return errResult(err)
	}
	if err := store.CheckFeatures(fsm.database, cmd.Ops); err != nil {
		return errResult(err)
	}

	// deterministic on every replica: only depends on the log
	writeIdx := fsm.database.WriteIdx() + 1
	if cmd.Timestamp > writeIdx {
		writeIdx = cmd.Timestamp
	}
	fsm.database.SetWriteIdx(writeIdx)

	results := store.ApplyOps(fsm.database, cmd.Ops, writeIdx)
	return sm.Result{
		Value: uint64(store.RetCSuccess),
		Data:  store.AppendResults(nil, results),
	}
}

func errResult(err error) sm.Result {
	if serr, ok := err.(*store.Error); ok {
		return sm.Result{Value: uint64(serr.Code), Data: []byte(serr.Msg)}
	}
	return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implementation does not support Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot restores the database (including its write index) from a snapshot.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
