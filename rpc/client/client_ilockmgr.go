package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/pkg/errors"
)

// NewRPCLockMgr creates a lockmgr.ILockManager that runs every operation on
// a lock manager shard of the server. Ids are normalized on the client, so
// both sides agree on the lock a structured id refers to. The deadline of a
// lock call's ctx is sent along and bounds the retries on the server.
func NewRPCLockMgr(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {
	adapter, err := newClientAdapter(shardId, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcLockMgr{adapter}, nil
}

type rpcLockMgr struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcLockMgr) ReadLock(ctx context.Context, id any) (string, error) {
	return i.lock(ctx, common.MsgTLCKReadLock, lockmgr.ModeRead, id)
}

func (i *rpcLockMgr) WriteLock(ctx context.Context, id any) (string, error) {
	return i.lock(ctx, common.MsgTLCKWriteLock, lockmgr.ModeWrite, id)
}

func (i *rpcLockMgr) ReadRelease(ctx context.Context, id any, token string) (string, error) {
	return i.release(ctx, common.MsgTLCKReadRelease, id, token)
}

func (i *rpcLockMgr) WriteRelease(ctx context.Context, id any, token string) (string, error) {
	return i.release(ctx, common.MsgTLCKWriteRelease, id, token)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (i *rpcLockMgr) lock(ctx context.Context, t common.MessageType, mode lockmgr.Mode, id any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WithStack(err)
	}

	idStr := lockmgr.NormalizeID(id)
	req := common.NewLockRequest(t, idStr)
	if deadline, ok := ctx.Deadline(); ok {
		req.TTL = time.Until(deadline)
		if req.TTL <= 0 {
			return "", errors.WithStack(context.DeadlineExceeded)
		}
	}

	resp, err := i.invoke(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.WithStack(ctxErr)
		}
		return "", &lockmgr.StoreCommandError{Op: t.String(), Key: idStr, Err: err}
	}
	if !resp.Ok {
		// the server does not report its attempt count
		return "", &lockmgr.LockTimeoutError{Mode: mode, ID: idStr}
	}
	return resp.Token, nil
}

func (i *rpcLockMgr) release(ctx context.Context, t common.MessageType, id any, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WithStack(err)
	}

	idStr := lockmgr.NormalizeID(id)
	resp, err := i.invoke(common.NewReleaseRequest(t, idStr, token))
	if err != nil {
		return "", &lockmgr.StoreCommandError{Op: t.String(), Key: idStr, Err: err}
	}
	return resp.Token, nil
}
