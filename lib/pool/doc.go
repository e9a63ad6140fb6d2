// Package pool provides the connection pool the lock manager borrows stores from.
//
// Two implementations of IPool exist:
//
//   - Pool: a bounded pool. At most Options.MaxActive stores are borrowed at
//     the same time (golang.org/x/sync/semaphore), released stores are kept
//     for reuse up to Options.MaxIdle. New stores are opened lazily through a
//     Factory, e.g. one RPC client or one redis connection per store.
//   - NewShared: a single store that is safe for concurrent use, handed out to
//     everyone. Release is a no-op.
//
// A pool is a handle passed explicitly to its users, there is no package
// level default pool.
//
// Usage:
//
//	p := pool.New(func(ctx context.Context) (store.IStore, error) {
//	    return rstore.NewRedisStore(redis.NewClient(opts), 5*time.Second), nil
//	}, pool.Options{MaxActive: 32})
//	defer p.Close()
//
//	s, err := p.Acquire(ctx)
//	if err != nil { ... }
//	defer p.Release(s)
package pool
