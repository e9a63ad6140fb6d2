package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the raft backed implementation of store.IStore.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write proposes ops as one command and returns the decoded results.
// The proposal is retried while the node host reports it is busy.
func (s *storeImpl) write(ops []store.Op) ([]store.Result, error) {
	cmd := internal.Command{
		Timestamp: util.NowMillis(),
		Ops:       ops,
	}
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return nil, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return nil, store.NewError(store.RetCode(res.Value), string(res.Data))
		}

		results, _, err := store.ReadResults(res.Data)
		if err != nil {
			return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("malformed result: %v", err))
		}
		if len(results) != len(ops) {
			return nil, store.NewError(store.RetCInternalError,
				fmt.Sprintf("expected %d results, got %d", len(ops), len(results)))
		}
		return results, nil
	}
	return nil, store.NewError(store.RetCInternalError, "timeout")
}

func (s *storeImpl) writeOne(op store.Op) (store.Result, error) {
	res, err := s.write([]store.Op{op})
	if err != nil {
		return store.Result{}, err
	}
	return res[0], nil
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var serr *store.Error
			if errors.As(err, &serr) {
				return zero, serr
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	_, err := s.writeOne(store.Op{Type: store.OpTSet, Key: key, Value: value})
	return err
}

func (s *storeImpl) SetE(key string, value []byte, ttl time.Duration) error {
	_, err := s.writeOne(store.Op{Type: store.OpTSetE, Key: key, Value: value, TTL: ttl})
	return err
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := s.writeOne(store.Op{Type: store.OpTSetEIfUnset, Key: key, Value: value, TTL: ttl})
	return res.Ok, err
}

func (s *storeImpl) Delete(key string) (bool, error) {
	res, err := s.writeOne(store.Op{Type: store.OpTDelete, Key: key})
	return res.Ok, err
}

func (s *storeImpl) DeleteIfEqual(key string, value []byte) (bool, error) {
	res, err := s.writeOne(store.Op{Type: store.OpTDeleteIfEqual, Key: key, Value: value})
	return res.Ok, err
}

// Get, Has and Keys go through the log like writes. The proposer's clock
// becomes the write index, so expired keys are never reported as live.

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	res, err := s.writeOne(store.Op{Type: store.OpTGet, Key: key})
	return res.Value, res.Ok, err
}

func (s *storeImpl) Has(key string) (bool, error) {
	res, err := s.writeOne(store.Op{Type: store.OpTHas, Key: key})
	return res.Ok, err
}

func (s *storeImpl) Keys(prefix string) ([]string, error) {
	res, err := s.writeOne(store.Op{Type: store.OpTKeys, Key: prefix})
	if err != nil {
		return nil, err
	}
	if res.Keys == nil {
		res.Keys = []string{}
	}
	return res.Keys, nil
}

// Exec proposes the batch as a single log entry, so it is applied
// atomically and in the same order on every replica.
func (s *storeImpl) Exec(batch *store.Batch) ([]store.Result, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return s.write(batch.Ops)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}
