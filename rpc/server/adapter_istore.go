package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewIStoreServerAdapter serves store requests on s
func NewIStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: s}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message) *common.Message {
	s := adapter.store
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTKVSet:
		err := s.Set(req.Key, req.Value)
		return common.NewOkResponse(req.MsgType, err == nil, err)
	case common.MsgTKVSetE:
		err := s.SetE(req.Key, req.Value, req.TTL)
		return common.NewOkResponse(req.MsgType, err == nil, err)
	case common.MsgTKVSetEIfUnset:
		stored, err := s.SetEIfUnset(req.Key, req.Value, req.TTL)
		return common.NewOkResponse(req.MsgType, stored, err)
	case common.MsgTKVDelete:
		deleted, err := s.Delete(req.Key)
		return common.NewOkResponse(req.MsgType, deleted, err)
	case common.MsgTKVDeleteIfEqual:
		deleted, err := s.DeleteIfEqual(req.Key, req.Value)
		return common.NewOkResponse(req.MsgType, deleted, err)
	case common.MsgTKVGet:
		val, ok, err := s.Get(req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := s.Has(req.Key)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTKVKeys:
		keys, err := s.Keys(req.Key)
		return common.NewKeysResponse(keys, err)
	case common.MsgTKVExec:
		results, err := s.Exec(&store.Batch{Ops: req.Ops})
		return common.NewExecResponse(results, err)
	case common.MsgTKVGetDBInfo:
		info, err := s.GetDBInfo()
		if err != nil {
			return common.NewGetDBInfoResponse(nil, err)
		}
		meta, err := json.Marshal(info)
		return common.NewGetDBInfoResponse(meta, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
