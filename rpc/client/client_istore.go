package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
//
// The returned store implements io.Closer, closing it closes the transport.
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	adapter, err := newClientAdapter(shardId, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcStore{adapter}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Set(key string, value []byte) error {
	_, err := i.invoke(common.NewSetRequest(key, value))
	return err
}

func (i *rpcStore) SetE(key string, value []byte, ttl time.Duration) error {
	_, err := i.invoke(common.NewSetERequest(key, value, ttl))
	return err
}

func (i *rpcStore) SetEIfUnset(key string, value []byte, ttl time.Duration) (bool, error) {
	return i.ok(common.NewSetEIfUnsetRequest(key, value, ttl))
}

func (i *rpcStore) Delete(key string) (bool, error) {
	return i.ok(common.NewDeleteRequest(key))
}

func (i *rpcStore) DeleteIfEqual(key string, value []byte) (bool, error) {
	return i.ok(common.NewDeleteIfEqualRequest(key, value))
}

func (i *rpcStore) Get(key string) ([]byte, bool, error) {
	resp, err := i.invoke(common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Has(key string) (bool, error) {
	return i.ok(common.NewHasRequest(key))
}

func (i *rpcStore) Keys(prefix string) ([]string, error) {
	resp, err := i.invoke(common.NewKeysRequest(prefix))
	if err != nil {
		return nil, err
	}
	if resp.Keys == nil {
		return []string{}, nil
	}
	return resp.Keys, nil
}

// Exec sends the whole batch in one request, the server runs it atomically.
func (i *rpcStore) Exec(batch *store.Batch) ([]store.Result, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	resp, err := i.invoke(common.NewExecRequest(batch.Ops))
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(batch.Ops) {
		return nil, store.NewError(store.RetCInternalError,
			fmt.Sprintf("expected %d results, got %d", len(batch.Ops), len(resp.Results)))
	}
	return resp.Results, nil
}

func (i *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	var info db.DatabaseInfo
	resp, err := i.invoke(common.NewGetDBInfoRequest())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return info, fmt.Errorf("invalid db info: %w", err)
	}
	return info, nil
}

// ok sends a request that is answered with a boolean
func (i *rpcStore) ok(req *common.Message) (bool, error) {
	resp, err := i.invoke(req)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
