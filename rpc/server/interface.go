package server

import (
	"github.com/ValentinKolb/dLock/rpc/common"
)

// IRPCServerAdapter translates requests into calls on the backend of a shard
// (a store.IStore or a lockmgr.ILockManager).
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// If an error occurs, it should be set in the response
	Handle(req *common.Message) (resp *common.Message)
}
