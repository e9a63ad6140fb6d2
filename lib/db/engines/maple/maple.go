package maple

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dLock/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum          = "MAPLEDB\x00"          // File format identifier
	mapleVersion      = 4                      // Snapshot format version (4 = string keys)
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements db.KVDB on top of a fixed number of xsync shards.
type mapleImpl struct {
	seed      uint64
	shards    []*internal.Shard
	currIndex atomic.Uint64

	// garbage collection
	gcInterval time.Duration
	gcMu       sync.Mutex
	gcStop     chan struct{}
	gcDone     chan struct{}
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards  int           // Number of shards (0 = runtime.NumCPU())
	GCInterval time.Duration // Time between GC runs (0 = 100ms)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
	}
}

// NewMapleDB creates a new MapleDB instance with the specified options (optional).
// The background collector runs until Close is called.
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}

	maple := &mapleImpl{
		seed:       util.GenerateSeed(),
		shards:     newShards(opts.NumShards),
		gcInterval: opts.GCInterval,
	}
	maple.startGC()
	return maple
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

func (maple *mapleImpl) shard(key string) *internal.Shard {
	return maple.shards[util.ShardIndex(key, maple.seed, len(maple.shards))]
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// action tells compute what to do with the entry after the callback ran.
type action int

const (
	actKeep action = iota
	actStore
	actRemove
)

// compute is the shared implementation of all write operations.
// fn receives the current entry and whether it is live at writeIndex and
// decides whether to keep it, replace it or remove it. The whole decision runs
// atomically for the key. Writes older than the stored entry are ignored.
func (maple *mapleImpl) compute(key string, writeIndex uint64, fn func(old internal.Entry, live bool) (internal.Entry, action)) {
	maple.SetWriteIdx(writeIndex)
	shard := maple.shard(key)

	shard.Data.Compute(key, func(old internal.Entry, exists bool) (internal.Entry, bool) {
		if exists && writeIndex < old.Index {
			return old, false
		}

		next, act := fn(old, exists && !old.Deleted(writeIndex))
		switch act {
		case actStore:
			shard.Track(key, next.DeleteAt)
			return next, false
		case actRemove:
			shard.Track(key, 0)
			return old, true
		default:
			// returning delete=true for a missing key keeps Compute from creating it
			return old, !exists
		}
	})
}

func newEntry(value []byte, writeIndex, deleteIn uint64) internal.Entry {
	e := internal.Entry{
		Value: make([]byte, len(value)),
		Index: writeIndex,
	}
	copy(e.Value, value)
	if deleteIn > 0 {
		e.DeleteAt = writeIndex + deleteIn
	}
	return e
}

// Set inserts or updates an entry without a ttl.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, value []byte, writeIndex uint64) {
	maple.SetE(key, value, writeIndex, 0)
}

// SetE inserts or updates an entry that is deleted deleteIn index units after writeIndex.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetE(key string, value []byte, writeIndex uint64, deleteIn uint64) {
	entry := newEntry(value, writeIndex, deleteIn)
	maple.compute(key, writeIndex, func(internal.Entry, bool) (internal.Entry, action) {
		return entry, actStore
	})
}

// SetEIfUnset stores the entry only if no live entry exists for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetEIfUnset(key string, value []byte, writeIndex uint64, deleteIn uint64) bool {
	entry := newEntry(value, writeIndex, deleteIn)
	stored := false
	maple.compute(key, writeIndex, func(old internal.Entry, live bool) (internal.Entry, action) {
		if live {
			return old, actKeep
		}
		stored = true
		return entry, actStore
	})
	return stored
}

// Delete removes the entry for key. The change is immediate.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, writeIndex uint64) bool {
	deleted := false
	maple.compute(key, writeIndex, func(old internal.Entry, live bool) (internal.Entry, action) {
		if !live {
			return old, actKeep
		}
		deleted = true
		return old, actRemove
	})
	return deleted
}

// DeleteIfEqual removes the entry for key only if it holds value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) DeleteIfEqual(key string, value []byte, writeIndex uint64) bool {
	deleted := false
	maple.compute(key, writeIndex, func(old internal.Entry, live bool) (internal.Entry, action) {
		if !live || !bytes.Equal(old.Value, value) {
			return old, actKeep
		}
		deleted = true
		return old, actRemove
	})
	return deleted
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the value for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	e, ok := maple.shard(key).Data.Load(key)
	if !ok || e.Deleted(maple.currIndex.Load()) {
		return nil, false
	}
	data := make([]byte, len(e.Value))
	copy(data, e.Value)
	return data, true
}

// Has checks if a live entry exists for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	e, ok := maple.shard(key).Data.Load(key)
	return ok && !e.Deleted(maple.currIndex.Load())
}

// KeysWithPrefix returns all live keys starting with prefix in ascending order.
// The scan is not a snapshot, keys written concurrently may or may not show up.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) KeysWithPrefix(prefix string) []string {
	idx := maple.currIndex.Load()
	keys := make([]string, 0)
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if strings.HasPrefix(key, prefix) && !e.Deleted(idx) {
				keys = append(keys, key)
			}
			return true
		})
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the collector goroutine if it is not running.
func (maple *mapleImpl) startGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop != nil {
		return
	}
	maple.gcStop = make(chan struct{})
	maple.gcDone = make(chan struct{})
	go maple.garbageCollector(maple.gcStop, maple.gcDone)
}

// stopGC stops the collector and waits for it to exit.
func (maple *mapleImpl) stopGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop == nil {
		return
	}
	close(maple.gcStop)
	<-maple.gcDone
	maple.gcStop, maple.gcDone = nil, nil
}

func (maple *mapleImpl) garbageCollector(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			maple.collect()
		}
	}
}

// collect physically removes every entry whose deadline has passed.
func (maple *mapleImpl) collect() {
	// read the index once so a busy writer can't keep a cycle running forever
	writeIndex := maple.currIndex.Load()

	for _, shard := range maple.shards {
		for _, key := range shard.Due(writeIndex) {
			shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
				if !loaded {
					return e, true
				}
				// the entry may have been rewritten with a new deadline after it was queued,
				// in that case the rewrite queued it again
				return e, e.Deleted(writeIndex)
			})
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a fuzzy snapshot of all live entries to w.
// Concurrent reads and writes are allowed while saving.
func (maple *mapleImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024)

	type keyedEntry struct {
		key   string
		entry internal.Entry
	}

	writeIndex := maple.currIndex.Load()
	var entries []keyedEntry
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if e.Deleted(writeIndex) {
				return true
			}
			entries = append(entries, keyedEntry{key, e})
			return true
		})
	}

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	header := []any{uint8(mapleVersion), writeIndex, uint64(len(entries))}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, item := range entries {
		if err := writeBytes(bw, []byte(item.key)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.entry.DeleteAt); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Index); err != nil {
			return err
		}
		if err := writeBytes(bw, item.entry.Value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the database content with a snapshot written by Save.
//
// Thread-safety: Load must not run concurrently with any other method.
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.stopGC()
	defer maple.startGC()

	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var writeIndex, count uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIndex); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := newShards(len(maple.shards))
	for i := uint64(0); i < count; i++ {
		key, err := readBytes(br)
		if err != nil {
			return err
		}
		var e internal.Entry
		if err := binary.Read(br, binary.LittleEndian, &e.DeleteAt); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &e.Index); err != nil {
			return err
		}
		if e.Value, err = readBytes(br); err != nil {
			return err
		}

		shard := shards[util.ShardIndex(string(key), maple.seed, len(shards))]
		shard.Data.Store(string(key), e)
		if e.DeleteAt != 0 {
			shard.Track(string(key), e.DeleteAt)
		}
	}

	maple.shards = shards
	maple.currIndex.Store(writeIndex)
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

const supportedFeatures = db.FeatureSet |
	db.FeatureSetE |
	db.FeatureSetEIfUnset |
	db.FeatureGet |
	db.FeatureDelete |
	db.FeatureDeleteIfEqual |
	db.FeatureHas |
	db.FeatureKeys |
	db.FeatureSave |
	db.FeatureLoad |
	db.FeatureGarbageCollect

// GetInfo counts entries and bytes across all shards.
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	writeIndex := maple.currIndex.Load()

	var (
		sizeBytes  int
		live       int
		pendingGC  int
		shardSizes = make([]int, len(maple.shards))
	)
	for i, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			shardSizes[i]++
			if e.Deleted(writeIndex) {
				return true
			}
			live++
			sizeBytes += len(key) + len(e.Value) + 16 // + deleteAt, index
			return true
		})
		pendingGC += shard.Pending()
	}

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		ShardCount        int    `json:"shard_count"`
		ShardSizes        []int  `json:"shard_sizes"`
		LiveEntries       int    `json:"live_entries"`
		PendingGC         int    `json:"pending_gc"`
	}{
		CurrentWriteIndex: writeIndex,
		ShardCount:        len(maple.shards),
		ShardSizes:        shardSizes,
		LiveEntries:       live,
		PendingGC:         pendingGC,
	}

	var features []db.Feature
	for f := db.FeatureSet; f <= db.FeatureGarbageCollect; f <<= 1 {
		if supportedFeatures&f == f {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplMaple,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}

// --------------------------------------------------------------------------
// Index Management
// --------------------------------------------------------------------------

// SetWriteIdx raises the current index to newIdx, lower values are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
