package internal

import (
	"sync"

	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (key-value pair with metadata)
// --------------------------------------------------------------------------

// Entry stores a value with its ttl metadata
type Entry struct {
	Value    []byte
	DeleteAt uint64 // write index at which the entry disappears (0 = never)
	Index    uint64 // write index of the last update
}

// Deleted reports whether the entry is logically gone at writeIdx.
func (e Entry) Deleted(writeIdx uint64) bool {
	return e.DeleteAt != 0 && writeIdx >= e.DeleteAt
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard is a partition of the key space.
//
// Lock order: Deadlines is only ever locked from inside a Data.Compute callback
// or with no Data bucket held, never the other way around.
type Shard struct {
	Data *xsync.MapOf[string, Entry]

	mu        sync.Mutex
	deadlines *util.MapHeap[string]
}

// NewShard creates an empty shard
func NewShard() *Shard {
	return &Shard{
		Data:      xsync.NewMapOf[string, Entry](),
		deadlines: util.NewMapHeap[string](),
	}
}

// Track queues key for collection at deleteAt, or forgets it when deleteAt is 0.
func (s *Shard) Track(key string, deleteAt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deleteAt == 0 {
		s.deadlines.RemoveByKey(key)
		return
	}
	s.deadlines.AddItem(key, deleteAt)
}

// Due removes and returns all keys with a deadline <= writeIdx.
func (s *Shard) Due(writeIdx uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlines.PopExpired(writeIdx)
}

// Pending returns the number of keys waiting for collection.
func (s *Shard) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlines.Len()
}
