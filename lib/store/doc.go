// Package store provides the key-value store abstraction the lock manager
// runs on.
//
// IStore offers per-key atomic primitives (set-if-unset with ttl,
// compare-and-delete) plus Exec, which runs a Batch of operations atomically
// in one round trip. The lock protocol is written entirely in terms of these
// batches, so any backend that can execute a Batch atomically can host locks.
//
// Implementations:
//
//   - lstore: in-process store on a db.KVDB engine, batches are serialized by
//     a store level lock.
//   - dstore: raft replicated store (dragonboat), every batch is one raft log
//     entry applied by the state machine.
//   - rstore: Redis, batches run inside MULTI/EXEC and compare-and-delete is a
//     Lua script. Keys are compatible with other Redis based MRSW lock clients.
//   - rpc/client: forwards everything to a dlock server.
//
// Errors are reported as *Error with a RetCode, so callers can tell
// unsupported operations from internal failures.
//
// The storetesting package holds the conformance suite every IStore must pass.
package store
