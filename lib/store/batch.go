package store

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// OpType identifies one operation inside a Batch.
type OpType uint8

const (
	OpTSet           OpType = iota // Insert or update without ttl.
	OpTSetE                        // Insert or update with ttl.
	OpTSetEIfUnset                 // Insert with ttl if the key does not exist.
	OpTGet                         // Read a value.
	OpTHas                         // Check existence.
	OpTDelete                      // Delete unconditionally.
	OpTDeleteIfEqual               // Delete if the value matches.
	OpTKeys                        // List keys by prefix (Key holds the prefix).
)

func (t OpType) String() string {
	switch t {
	case OpTSet:
		return "Set"
	case OpTSetE:
		return "SetE"
	case OpTSetEIfUnset:
		return "SetEIfUnset"
	case OpTGet:
		return "Get"
	case OpTHas:
		return "Has"
	case OpTDelete:
		return "Delete"
	case OpTDeleteIfEqual:
		return "DeleteIfEqual"
	case OpTKeys:
		return "Keys"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// ToDBFeature returns the engine feature an operation needs.
func (t OpType) ToDBFeature() (db.Feature, error) {
	switch t {
	case OpTSet:
		return db.FeatureSet, nil
	case OpTSetE:
		return db.FeatureSetE, nil
	case OpTSetEIfUnset:
		return db.FeatureSetEIfUnset, nil
	case OpTGet:
		return db.FeatureGet, nil
	case OpTHas:
		return db.FeatureHas, nil
	case OpTDelete:
		return db.FeatureDelete, nil
	case OpTDeleteIfEqual:
		return db.FeatureDeleteIfEqual, nil
	case OpTKeys:
		return db.FeatureKeys, nil
	default:
		return 0, fmt.Errorf("unknown operation type %d", t)
	}
}

// IsWrite reports whether the operation modifies the store.
func (t OpType) IsWrite() bool {
	switch t {
	case OpTGet, OpTHas, OpTKeys:
		return false
	default:
		return true
	}
}

// Op is a single operation of a Batch.
type Op struct {
	Type  OpType
	Key   string
	Value []byte
	TTL   time.Duration
}

// Result is the outcome of one Op.
//
//   - Set, SetE: Ok is always true
//   - SetEIfUnset: Ok reports whether the value was stored
//   - Get: Ok reports whether the key was found, Value holds the value
//   - Has: Ok reports whether the key exists
//   - Delete, DeleteIfEqual: Ok reports whether a key was removed
//   - Keys: Keys holds the matching keys, Ok reports whether there was at least one
type Result struct {
	Ok    bool
	Value []byte
	Keys  []string
}

// Batch is an ordered list of operations executed atomically by IStore.Exec.
// The builder methods return the batch to allow chaining:
//
//	batch := store.NewBatch().
//		SetEIfUnset("write:job", token, 30*time.Second).
//		Keys("read:job:")
type Batch struct {
	Ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) add(op Op) *Batch {
	b.Ops = append(b.Ops, op)
	return b
}

func (b *Batch) Set(key string, value []byte) *Batch {
	return b.add(Op{Type: OpTSet, Key: key, Value: value})
}

func (b *Batch) SetE(key string, value []byte, ttl time.Duration) *Batch {
	return b.add(Op{Type: OpTSetE, Key: key, Value: value, TTL: ttl})
}

func (b *Batch) SetEIfUnset(key string, value []byte, ttl time.Duration) *Batch {
	return b.add(Op{Type: OpTSetEIfUnset, Key: key, Value: value, TTL: ttl})
}

func (b *Batch) Get(key string) *Batch {
	return b.add(Op{Type: OpTGet, Key: key})
}

func (b *Batch) Has(key string) *Batch {
	return b.add(Op{Type: OpTHas, Key: key})
}

func (b *Batch) Delete(key string) *Batch {
	return b.add(Op{Type: OpTDelete, Key: key})
}

func (b *Batch) DeleteIfEqual(key string, value []byte) *Batch {
	return b.add(Op{Type: OpTDeleteIfEqual, Key: key, Value: value})
}

func (b *Batch) Keys(prefix string) *Batch {
	return b.add(Op{Type: OpTKeys, Key: prefix})
}

// Len returns the number of operations.
func (b *Batch) Len() int {
	return len(b.Ops)
}

// HasWrites reports whether any operation modifies the store.
func (b *Batch) HasWrites() bool {
	for _, op := range b.Ops {
		if op.Type.IsWrite() {
			return true
		}
	}
	return false
}

// Validate checks that the batch is not empty and only contains known operations.
func (b *Batch) Validate() error {
	if b == nil || len(b.Ops) == 0 {
		return NewError(RetCInvalidOperation, "empty batch")
	}
	for i, op := range b.Ops {
		if _, err := op.Type.ToDBFeature(); err != nil {
			return NewError(RetCInvalidOperation, fmt.Sprintf("op %d: %v", i, err))
		}
		if op.TTL < 0 {
			return NewError(RetCInvalidOperation, fmt.Sprintf("op %d: negative ttl %s", i, op.TTL))
		}
	}
	return nil
}
