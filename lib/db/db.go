package db

import (
	"io"
	"math/bits"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
	ImplRedis Implementation = "redis" // not a KVDB engine, reported by rstore
)

// Feature is a bit flag for an optional capability of a KVDB.
// Flags can be combined with | and checked at once with SupportsFeature.
type Feature uint64

const (
	FeatureSet Feature = 1 << iota
	FeatureSetE
	FeatureSetEIfUnset
	FeatureGet
	FeatureDelete
	FeatureDeleteIfEqual
	FeatureHas
	FeatureKeys // KeysWithPrefix
	FeatureSave
	FeatureLoad
	FeatureGarbageCollect // expired entries are removed in the background
)

// featureNames is indexed by bit position
var featureNames = [...]string{
	"Set", "SetE", "SetEIfUnset", "Get", "Delete", "DeleteIfEqual",
	"Has", "Keys", "Save", "Load", "GarbageCollect",
}

func (f Feature) String() string {
	if f != 0 && f&(f-1) == 0 {
		if i := bits.TrailingZeros64(uint64(f)); i < len(featureNames) {
			return featureNames[i]
		}
	}
	return "Unknown"
}

// DatabaseInfo describes a database for GetDBInfo. Metadata is engine specific.
type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for key-value database implementations.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
//
// Every write takes a writeIndex. The index is a monotonic clock owned by the caller
// (the stores use unix milliseconds) and all ttl values are offsets on that clock.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry without a ttl.
	Set(key string, value []byte, writeIndex uint64)

	// SetE inserts or updates an entry that is deleted deleteIn index units after writeIndex.
	// deleteIn=0 means the entry never expires.
	SetE(key string, value []byte, writeIndex uint64, deleteIn uint64)

	// SetEIfUnset behaves like SetE but only stores the entry if the key does not exist.
	// Returns whether the entry was stored.
	SetEIfUnset(key string, value []byte, writeIndex uint64, deleteIn uint64) (stored bool)

	// Delete removes an entry. Returns whether a live entry was removed.
	Delete(key string, writeIndex uint64) (deleted bool)

	// DeleteIfEqual removes an entry only if its current value equals value.
	// Returns whether the entry was removed.
	DeleteIfEqual(key string, value []byte, writeIndex uint64) (deleted bool)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool)

	// Has checks whether a key exists in the database.
	Has(key string) (loaded bool)

	// KeysWithPrefix returns all live keys that start with prefix, sorted ascending.
	KeysWithPrefix(prefix string) (keys []string)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
