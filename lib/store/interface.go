package store

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// IStore is the generic interface for interacting with a key–value store.
//
// Single operations are atomic per key. Exec runs a whole Batch atomically in
// one round trip: no other operation on the store interleaves with it. A ttl
// of 0 means the entry never expires.
type IStore interface {
	// Set inserts or updates a key–value pair without a ttl.
	Set(key string, value []byte) (err error)
	// SetE inserts or updates a key–value pair that is deleted after ttl.
	SetE(key string, value []byte, ttl time.Duration) (err error)
	// SetEIfUnset inserts a key–value pair only if the key does not exist.
	// stored reports whether the pair was written.
	SetEIfUnset(key string, value []byte, ttl time.Duration) (stored bool, err error)
	// Delete removes a key. deleted reports whether the key existed.
	Delete(key string) (deleted bool, err error)
	// DeleteIfEqual removes a key only if it currently holds value (compare-and-delete).
	DeleteIfEqual(key string, value []byte) (deleted bool, err error)
	// Get return the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool, err error)
	// Keys returns all keys starting with prefix in ascending order.
	Keys(prefix string) (keys []string, err error)
	// Exec executes all operations of batch atomically and returns one Result per operation.
	Exec(batch *Batch) (results []Result, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
