package store

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// TTLToIndex converts a ttl to write index units (milliseconds).
// A positive ttl below one millisecond is rounded up so it still expires.
func TTLToIndex(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	ms := uint64(ttl / time.Millisecond)
	if ms == 0 {
		return 1
	}
	return ms
}

// CheckFeatures returns an RetCUnsupportedOperation error if database lacks a
// feature one of the operations needs.
func CheckFeatures(database db.KVDB, ops []Op) error {
	for _, op := range ops {
		feat, err := op.Type.ToDBFeature()
		if err != nil {
			return NewError(RetCInvalidOperation, err.Error())
		}
		if !database.SupportsFeature(feat) {
			return NewError(RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", op.Type))
		}
	}
	return nil
}

// ApplyOps runs ops against database at writeIndex. The caller is
// responsible for making the sequence atomic (store lock, raft log).
func ApplyOps(database db.KVDB, ops []Op, writeIndex uint64) []Result {
	results := make([]Result, len(ops))
	for i, op := range ops {
		results[i] = applyOp(database, op, writeIndex)
	}
	return results
}

func applyOp(database db.KVDB, op Op, writeIndex uint64) Result {
	switch op.Type {
	case OpTSet:
		database.Set(op.Key, op.Value, writeIndex)
		return Result{Ok: true}
	case OpTSetE:
		database.SetE(op.Key, op.Value, writeIndex, TTLToIndex(op.TTL))
		return Result{Ok: true}
	case OpTSetEIfUnset:
		return Result{Ok: database.SetEIfUnset(op.Key, op.Value, writeIndex, TTLToIndex(op.TTL))}
	case OpTGet:
		value, ok := database.Get(op.Key)
		return Result{Ok: ok, Value: value}
	case OpTHas:
		return Result{Ok: database.Has(op.Key)}
	case OpTDelete:
		return Result{Ok: database.Delete(op.Key, writeIndex)}
	case OpTDeleteIfEqual:
		return Result{Ok: database.DeleteIfEqual(op.Key, op.Value, writeIndex)}
	case OpTKeys:
		keys := database.KeysWithPrefix(op.Key)
		return Result{Ok: len(keys) > 0, Keys: keys}
	default:
		// Validate rejects unknown types before a batch gets here
		return Result{}
	}
}
