// Package lockmgr implements a multi-reader/single-writer lock on top of any
// store.IStore. All lock state lives in the store, the manager itself is
// stateless. Any number of managers in any number of processes that share a
// store see the same locks.
//
// Keys:
//
//	read:<id>:<token>   one per held read lock, value "anyvalue", ttl ReadLockTTL
//	write:<id>          at most one, value = token of the owner, ttl WriteLockTTL
//
// The id is normalized with NormalizeID first.
//
// Acquisition:
//
//	Every attempt is one atomic batch (store.IStore.Exec):
//
//	- read:  SetEIfUnset(read:<id>:<token>) + Get(write:<id>)
//	  granted if the key was stored and no write key exists
//	- write: SetEIfUnset(write:<id>, token) + Keys(read:<id>:)
//	  granted if the key was stored and no read key exists
//
//	A failed attempt removes what it created before anything else happens: the
//	read key with Delete, the write key with DeleteIfEqual(token) so a write
//	lock of somebody else is never touched. A failing cleanup is logged as
//	*CleanupError and otherwise ignored, the ttl removes the key.
//
//	Between attempts the manager waits delay*2 + rand[DelayOffsetMin,
//	DelayOffsetMax], starting from BaseDelay. After MaxRetries attempts it
//	gives up with *LockTimeoutError (errors.Is(err, ErrLockTimeout)). ctx
//	aborts the wait between attempts, a running attempt is never interrupted.
//
// Release:
//
//	ReadRelease deletes the read key, WriteRelease deletes the write key only
//	if it still holds the token. Both return "" (and no error) if there was
//	nothing to release.
//
// Connections:
//
//	Every attempt and every release borrows a store from a pool.IPool and
//	returns it before the manager waits or returns.
//
// Usage:
//
//	m, err := lockmgr.NewLockManager(pool.NewShared(s), lockmgr.Config{})
//	if err != nil { ... }
//
//	token, err := m.WriteLock(ctx, "invoice:42")
//	if errors.Is(err, lockmgr.ErrLockTimeout) {
//	    // somebody else holds it
//	}
//	defer m.WriteRelease(ctx, "invoice:42", token)
package lockmgr
