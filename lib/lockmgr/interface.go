package lockmgr

import "context"

// ILockManager is a multi-reader/single-writer lock on identifiers.
//
// Any number of read locks may be held on an id at the same time, a write lock
// only when no other lock (read or write) is held. All locks expire after
// their ttl even if they are never released.
type ILockManager interface {
	// ReadLock acquires a read lock on id and returns its token.
	// It fails with a *LockTimeoutError if a writer holds id for all attempts.
	ReadLock(ctx context.Context, id any) (token string, err error)

	// WriteLock acquires the write lock on id and returns its token.
	// It fails with a *LockTimeoutError if readers or another writer hold id
	// for all attempts.
	WriteLock(ctx context.Context, id any) (token string, err error)

	// ReadRelease releases the read lock identified by token. It returns the
	// token if a lock was removed and "" if it was already gone.
	ReadRelease(ctx context.Context, id any, token string) (released string, err error)

	// WriteRelease releases the write lock on id if token still owns it. It
	// returns the token if the lock was removed and "" if it expired or
	// belongs to someone else.
	WriteRelease(ctx context.Context, id any, token string) (released string, err error)
}
