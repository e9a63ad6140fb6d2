// Package rpc exposes stores and lock managers over the network.
//
// A dLock server hosts shards. Each shard is either a store (lstore, dstore)
// or a lock manager on top of one (lockmgr(lstore), lockmgr(dstore),
// lockmgr(redis)). Clients address a shard by its id and get an
// implementation of store.IStore or lockmgr.ILockManager back, so code using
// a remote lock manager looks the same as code using a local one.
//
// Subpackages:
//
//   - common: the Message type shared by all requests and responses, server
//     and client configuration, logging
//   - serializer: Message encodings (binary, json, gob)
//   - transport: how serialized messages travel (http, tcp, unix)
//   - server: shards and the adapters mapping messages to store or lock calls
//   - client: IStore and ILockManager implementations that call a server
package rpc
