package lstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/lib/store"
)

type storeImpl struct {
	db    db.KVDB
	mu    sync.RWMutex // write ops and batches hold mu exclusively, reads share it
	index atomic.Uint64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db: factory(),
	}
}

// nextIndex returns the write index for the next write: the wall clock in
// milliseconds, bumped by one if it would not be greater than the last index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) nextIndex() uint64 {
	for {
		last := s.index.Load()
		next := util.NowMillis()
		if next <= last {
			next = last + 1
		}
		if s.index.CompareAndSwap(last, next) {
			return next
		}
	}
}

// tick lets the engine observe the wall clock so reads see expired entries as gone.
func (s *storeImpl) tick() {
	s.db.SetWriteIdx(util.NowMillis())
}

// exec runs ops under the store lock.
func (s *storeImpl) exec(ops []store.Op) ([]store.Result, error) {
	if err := store.CheckFeatures(s.db, ops); err != nil {
		return nil, err
	}

	if (&store.Batch{Ops: ops}).HasWrites() {
		s.mu.Lock()
		defer s.mu.Unlock()
	} else {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}

	idx := s.nextIndex()
	s.db.SetWriteIdx(idx)
	return store.ApplyOps(s.db, ops, idx), nil
}

func (s *storeImpl) single(op store.Op) (store.Result, error) {
	res, err := s.exec([]store.Op{op})
	if err != nil {
		return store.Result{}, err
	}
	return res[0], nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	_, err := s.single(store.Op{Type: store.OpTSet, Key: key, Value: value})
	return err
}

func (s *storeImpl) SetE(key string, value []byte, ttl time.Duration) error {
	_, err := s.single(store.Op{Type: store.OpTSetE, Key: key, Value: value, TTL: ttl})
	return err
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := s.single(store.Op{Type: store.OpTSetEIfUnset, Key: key, Value: value, TTL: ttl})
	return res.Ok, err
}

func (s *storeImpl) Delete(key string) (bool, error) {
	res, err := s.single(store.Op{Type: store.OpTDelete, Key: key})
	return res.Ok, err
}

func (s *storeImpl) DeleteIfEqual(key string, value []byte) (bool, error) {
	res, err := s.single(store.Op{Type: store.OpTDeleteIfEqual, Key: key, Value: value})
	return res.Ok, err
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return nil, false, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}
	s.tick()
	val, ok := s.db.Get(key)
	return val, ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	if !s.db.SupportsFeature(db.FeatureHas) {
		return false, store.NewError(store.RetCUnsupportedOperation, "Has operation is not supported")
	}
	s.tick()
	return s.db.Has(key), nil
}

func (s *storeImpl) Keys(prefix string) ([]string, error) {
	res, err := s.single(store.Op{Type: store.OpTKeys, Key: prefix})
	return res.Keys, err
}

func (s *storeImpl) Exec(batch *store.Batch) ([]store.Result, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return s.exec(batch.Ops)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	s.tick()
	return s.db.GetInfo(), nil
}

// Close releases the engine.
func (s *storeImpl) Close() error {
	return s.db.Close()
}
