package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewLockManagerServerAdapter serves lock requests with m. Every request is
// bounded by timeout (no bound if timeout is 0). A lock request with a TTL
// is bounded by the shorter of the two.
func NewLockManagerServerAdapter(m lockmgr.ILockManager, timeout time.Duration) IRPCServerAdapter {
	return &lockMgrServerAdapter{locks: m, timeout: timeout}
}

type lockMgrServerAdapter struct {
	locks   lockmgr.ILockManager
	timeout time.Duration
}

func (adapter *lockMgrServerAdapter) Handle(req *common.Message) *common.Message {
	if adapter.locks == nil {
		return common.NewErrorResponse("handler: lock manager is nil")
	}

	ctx := context.Background()
	if timeout := adapter.requestTimeout(req); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		token string
		err   error
	)
	switch req.MsgType {
	case common.MsgTLCKReadLock:
		token, err = adapter.locks.ReadLock(ctx, req.Key)
	case common.MsgTLCKWriteLock:
		token, err = adapter.locks.WriteLock(ctx, req.Key)
	case common.MsgTLCKReadRelease:
		token, err = adapter.locks.ReadRelease(ctx, req.Key, req.Token)
	case common.MsgTLCKWriteRelease:
		token, err = adapter.locks.WriteRelease(ctx, req.Key, req.Token)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockManagerAdapter - Unsupported message type: %s", req.MsgType))
	}

	// a taken lock is an answer, not a failure: Ok=false without Err
	if errors.Is(err, lockmgr.ErrLockTimeout) {
		err = nil
	}
	return common.NewLockResponse(req.MsgType, token, err)
}

// requestTimeout is the bound of req, the TTL of a lock request is the
// remaining time of the caller.
func (adapter *lockMgrServerAdapter) requestTimeout(req *common.Message) time.Duration {
	isLock := req.MsgType == common.MsgTLCKReadLock || req.MsgType == common.MsgTLCKWriteLock
	if !isLock || req.TTL <= 0 {
		return adapter.timeout
	}
	if adapter.timeout > 0 && adapter.timeout < req.TTL {
		return adapter.timeout
	}
	return req.TTL
}
