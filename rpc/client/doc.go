// Package client implements store.IStore and lockmgr.ILockManager on top of
// the RPC transport, for use against a `dlock serve` process.
//
// There are two ways to lock through a server:
//
//   - NewRPCLockMgr: the lock manager runs on the server (a lockmgr shard).
//     Every lock call is one request, the server does the retries.
//
//   - lockmgr.NewLockManager on stores from NewRPCStore (a store shard): the
//     lock manager runs in this process and every attempt is one Exec
//     request. A pool.Pool of RPC stores gives every concurrent attempt its
//     own transport.
//
// Usage:
//
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:8080"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	locks, err := client.NewRPCLockMgr(2, config, socket.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil { ... }
//
//	token, err := locks.WriteLock(ctx, "invoice:42")
//	if errors.Is(err, lockmgr.ErrLockTimeout) {
//	  // taken
//	}
//	defer locks.WriteRelease(ctx, "invoice:42", token)
//
// Errors:
//
//	Store errors keep their store.RetCode across the wire (*store.Error).
//	Lock manager clients report transport and server failures as
//	*lockmgr.StoreCommandError and a taken lock as *lockmgr.LockTimeoutError
//	(Attempts is 0, the server does not report it).
//
// All clients are safe for concurrent use if their transport is.
package client
