package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/pool"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/ValentinKolb/dLock/lib/store/rstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps contention tests short.
var fastConfig = Config{
	BaseDelay:      time.Millisecond,
	DelayOffsetMin: time.Millisecond,
	DelayOffsetMax: 2 * time.Millisecond,
	MaxRetries:     3,
}

// env is a lock manager on a fresh store. wait lets time pass on the store's clock.
type env struct {
	store store.IStore
	pool  *countingPool
	wait  func(time.Duration)
	new   func(cfg Config) ILockManager
}

type backend func(t *testing.T) (store.IStore, func(time.Duration))

func localBackend(t *testing.T) (store.IStore, func(time.Duration)) {
	s := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	t.Cleanup(func() { _ = s.(interface{ Close() error }).Close() })
	return s, time.Sleep
}

func redisBackend(t *testing.T) (store.IStore, func(time.Duration)) {
	mr := miniredis.RunT(t)
	s := rstore.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Second)
	t.Cleanup(func() { _ = s.(interface{ Close() error }).Close() })
	return s, mr.FastForward
}

var backends = map[string]backend{
	"LocalStore": localBackend,
	"RedisStore": redisBackend,
}

func newEnv(t *testing.T, b backend) *env {
	s, wait := b(t)
	p := &countingPool{IPool: pool.NewShared(s)}
	e := &env{store: s, pool: p, wait: wait}
	e.new = func(cfg Config) ILockManager {
		m, err := NewLockManager(p, cfg)
		require.NoError(t, err)
		return m
	}
	t.Cleanup(func() { p.assertBalanced(t) })
	return e
}

// countingPool checks that every Acquire is matched by exactly one Release.
type countingPool struct {
	pool.IPool
	acquired atomic.Int64
	released atomic.Int64
}

func (p *countingPool) Acquire(ctx context.Context) (store.IStore, error) {
	s, err := p.IPool.Acquire(ctx)
	if err == nil {
		p.acquired.Add(1)
	}
	return s, err
}

func (p *countingPool) Release(s store.IStore) {
	p.released.Add(1)
	p.IPool.Release(s)
}

func (p *countingPool) assertBalanced(t *testing.T) {
	assert.Equal(t, p.acquired.Load(), p.released.Load(), "every borrowed store must be released exactly once")
}

func TestLockManager(t *testing.T) {
	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("ConcurrentReaders", func(t *testing.T) { testConcurrentReaders(t, newEnv(t, b)) })
			t.Run("ReadReleaseFreesWriter", func(t *testing.T) { testReadReleaseFreesWriter(t, newEnv(t, b)) })
			t.Run("ReaderBlocksWriter", func(t *testing.T) { testReaderBlocksWriter(t, newEnv(t, b)) })
			t.Run("WriterBlocksReader", func(t *testing.T) { testWriterBlocksReader(t, newEnv(t, b)) })
			t.Run("WriterBlocksWriter", func(t *testing.T) { testWriterBlocksWriter(t, newEnv(t, b)) })
			t.Run("WriteReleaseFreesReader", func(t *testing.T) { testWriteReleaseFreesReader(t, newEnv(t, b)) })
			t.Run("WriteReleaseChecksOwner", func(t *testing.T) { testWriteReleaseChecksOwner(t, newEnv(t, b)) })
			t.Run("WriteLockExpires", func(t *testing.T) { testWriteLockExpires(t, newEnv(t, b)) })
			t.Run("ReadLockExpires", func(t *testing.T) { testReadLockExpires(t, newEnv(t, b)) })
			t.Run("ReadReleaseIdempotent", func(t *testing.T) { testReadReleaseIdempotent(t, newEnv(t, b)) })
			t.Run("IdsAreIndependent", func(t *testing.T) { testIdsAreIndependent(t, newEnv(t, b)) })
			t.Run("CollectionIds", func(t *testing.T) { testCollectionIds(t, newEnv(t, b)) })
			t.Run("SingleWriterUnderContention", func(t *testing.T) { testSingleWriterUnderContention(t, newEnv(t, b)) })
			t.Run("KeysAreInteroperable", func(t *testing.T) { testKeysAreInteroperable(t, newEnv(t, b)) })
		})
	}
}

func testConcurrentReaders(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	t1, err := m.ReadLock(ctx, "res")
	require.NoError(t, err)
	t2, err := m.ReadLock(ctx, "res")
	require.NoError(t, err)

	assert.NotEmpty(t, t1)
	assert.NotEmpty(t, t2)
	assert.NotEqual(t, t1, t2)

	keys, err := e.store.Keys("read:res:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func testReadReleaseFreesWriter(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	token, err := m.ReadLock(ctx, "res")
	require.NoError(t, err)

	released, err := m.ReadRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Equal(t, token, released)

	_, err = m.WriteLock(ctx, "res")
	assert.NoError(t, err)
}

func testReaderBlocksWriter(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	_, err := m.ReadLock(ctx, "res")
	require.NoError(t, err)

	token, err := m.WriteLock(ctx, "res")
	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	var lte *LockTimeoutError
	require.True(t, errors.As(err, &lte))
	assert.Equal(t, ModeWrite, lte.Mode)
	assert.Equal(t, "res", lte.ID)
	assert.Equal(t, fastConfig.MaxRetries, lte.Attempts)

	// the failed writer cleaned up after itself
	_, found, err := e.store.Get("write:res")
	require.NoError(t, err)
	assert.False(t, found)
}

func testWriterBlocksReader(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	_, err := m.WriteLock(ctx, "res")
	require.NoError(t, err)

	_, err = m.ReadLock(ctx, "res")
	require.ErrorIs(t, err, ErrLockTimeout)

	// no read key survives a failed read lock
	keys, err := e.store.Keys("read:res:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testWriterBlocksWriter(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	token, err := m.WriteLock(ctx, "res")
	require.NoError(t, err)

	_, err = m.WriteLock(ctx, "res")
	require.ErrorIs(t, err, ErrLockTimeout)

	// the loser must not have removed the winner's key
	value, found, err := e.store.Get("write:res")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, token, string(value))
}

func testWriteReleaseFreesReader(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	token, err := m.WriteLock(ctx, "res")
	require.NoError(t, err)

	released, err := m.WriteRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Equal(t, token, released)

	_, err = m.ReadLock(ctx, "res")
	assert.NoError(t, err)
}

func testWriteReleaseChecksOwner(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	token, err := m.WriteLock(ctx, "res")
	require.NoError(t, err)

	released, err := m.WriteRelease(ctx, "res", "not-the-token")
	require.NoError(t, err)
	assert.Empty(t, released)

	// still held
	_, err = m.ReadLock(ctx, "res")
	require.ErrorIs(t, err, ErrLockTimeout)

	released, err = m.WriteRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Equal(t, token, released)

	released, err = m.WriteRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Empty(t, released, "second release finds nothing")
}

func testWriteLockExpires(t *testing.T, e *env) {
	cfg := fastConfig
	cfg.WriteLockTTL = 100 * time.Millisecond
	m := e.new(cfg)
	ctx := context.Background()

	first, err := m.WriteLock(ctx, "res")
	require.NoError(t, err)

	e.wait(300 * time.Millisecond)

	second, err := m.WriteLock(ctx, "res")
	require.NoError(t, err, "expired write lock must not block")
	assert.NotEqual(t, first, second)

	// the expired owner can no longer release it
	released, err := m.WriteRelease(ctx, "res", first)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func testReadLockExpires(t *testing.T, e *env) {
	cfg := fastConfig
	cfg.ReadLockTTL = 100 * time.Millisecond
	m := e.new(cfg)
	ctx := context.Background()

	token, err := m.ReadLock(ctx, "res")
	require.NoError(t, err)

	e.wait(300 * time.Millisecond)

	_, err = m.WriteLock(ctx, "res")
	require.NoError(t, err)

	released, err := m.ReadRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func testReadReleaseIdempotent(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	token, err := m.ReadLock(ctx, "res")
	require.NoError(t, err)

	released, err := m.ReadRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Equal(t, token, released)

	released, err = m.ReadRelease(ctx, "res", token)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func testIdsAreIndependent(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	_, err := m.WriteLock(ctx, "a")
	require.NoError(t, err)
	_, err = m.WriteLock(ctx, "b")
	require.NoError(t, err)

	// "a" is a prefix of "ab" but the read keys of "ab" do not block "a"
	_, err = m.ReadLock(ctx, "ab")
	require.NoError(t, err)
	_, err = m.WriteLock(ctx, "ab")
	require.ErrorIs(t, err, ErrLockTimeout)

	// the read keys of "c:d" start with "read:c:" but belong to another id
	_, err = m.ReadLock(ctx, "c:d")
	require.NoError(t, err)
	_, err = m.WriteLock(ctx, "c")
	require.NoError(t, err)
	_, err = m.WriteLock(ctx, "c:d")
	require.ErrorIs(t, err, ErrLockTimeout)
}

func testCollectionIds(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	token, err := m.WriteLock(ctx, []string{"users", "orders"})
	require.NoError(t, err)

	// same elements in a different order name the same resource
	_, err = m.ReadLock(ctx, []string{"orders", "users"})
	require.ErrorIs(t, err, ErrLockTimeout)
	_, err = m.ReadLock(ctx, "orders,users")
	require.ErrorIs(t, err, ErrLockTimeout)

	released, err := m.WriteRelease(ctx, [2]string{"orders", "users"}, token)
	require.NoError(t, err)
	assert.Equal(t, token, released)
}

func testSingleWriterUnderContention(t *testing.T, e *env) {
	cfg := fastConfig
	cfg.MaxRetries = 1
	m := e.new(cfg)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.WriteLock(ctx, "hot")
			if err == nil {
				winners.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrLockTimeout)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

// testKeysAreInteroperable checks the raw key layout other clients of the
// same store rely on.
func testKeysAreInteroperable(t *testing.T, e *env) {
	m := e.new(fastConfig)
	ctx := context.Background()

	readToken, err := m.ReadLock(ctx, "r")
	require.NoError(t, err)
	value, found, err := e.store.Get("read:r:" + readToken)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, readSentinel, value)

	writeToken, err := m.WriteLock(ctx, "w")
	require.NoError(t, err)
	value, found, err = e.store.Get("write:w")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, writeToken, string(value))

	// a write key placed by another client blocks readers
	require.NoError(t, e.store.SetE("write:foreign", []byte("x"), time.Minute))
	_, err = m.ReadLock(ctx, "foreign")
	require.ErrorIs(t, err, ErrLockTimeout)
}

// --------------------------------------------------------------------------
// Failure handling
// --------------------------------------------------------------------------

// failingStore fails every batch and optionally every cleanup.
type failingStore struct {
	store.IStore
	failCleanup bool
	cleanups    atomic.Int32
}

var errInjected = errors.New("injected failure")

func (f *failingStore) Exec(*store.Batch) ([]store.Result, error) {
	return nil, errInjected
}

func (f *failingStore) Delete(key string) (bool, error) {
	f.cleanups.Add(1)
	if f.failCleanup {
		return false, errInjected
	}
	return f.IStore.Delete(key)
}

func (f *failingStore) DeleteIfEqual(key string, value []byte) (bool, error) {
	f.cleanups.Add(1)
	if f.failCleanup {
		return false, errInjected
	}
	return f.IStore.DeleteIfEqual(key, value)
}

func TestStoreErrors(t *testing.T) {
	for _, failCleanup := range []bool{false, true} {
		s, _ := localBackend(t)
		fs := &failingStore{IStore: s, failCleanup: failCleanup}
		p := &countingPool{IPool: pool.NewShared(fs)}
		m, err := NewLockManager(p, fastConfig)
		require.NoError(t, err)
		ctx := context.Background()

		_, err = m.ReadLock(ctx, "res")
		var sce *StoreCommandError
		require.True(t, errors.As(err, &sce), "got %v", err)
		assert.Equal(t, "exec", sce.Op)
		assert.ErrorIs(t, err, errInjected)
		assert.False(t, errors.Is(err, ErrLockTimeout), "a store error is no timeout")

		_, err = m.WriteLock(ctx, "res")
		require.True(t, errors.As(err, &sce))
		assert.Equal(t, "write:res", sce.Key)

		// store errors are not retried, each call made one attempt and one cleanup
		assert.EqualValues(t, 2, fs.cleanups.Load())
		p.assertBalanced(t)
	}
}

type brokenPool struct{}

func (brokenPool) Acquire(context.Context) (store.IStore, error) {
	return nil, errors.New("no connection")
}

func (brokenPool) Release(store.IStore) {
	panic("release without acquire")
}

func TestPoolErrors(t *testing.T) {
	m, err := NewLockManager(brokenPool{}, fastConfig)
	require.NoError(t, err)

	_, err = m.WriteLock(context.Background(), "res")
	var sce *StoreCommandError
	require.True(t, errors.As(err, &sce))
	assert.Equal(t, "acquire", sce.Op)

	_, err = m.ReadRelease(context.Background(), "res", "t")
	require.Error(t, err)
}

func TestContextCancelsBackoff(t *testing.T) {
	s, _ := localBackend(t)
	p := &countingPool{IPool: pool.NewShared(s)}

	slow := fastConfig
	slow.BaseDelay = time.Hour
	m, err := NewLockManager(p, slow)
	require.NoError(t, err)

	_, err = m.WriteLock(context.Background(), "res")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = m.ReadLock(ctx, "res")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	p.assertBalanced(t)
}

func TestTokenSource(t *testing.T) {
	s, _ := localBackend(t)
	var n atomic.Int32
	cfg := fastConfig
	cfg.TokenSource = func() string {
		return fmt.Sprintf("token-%d", n.Add(1))
	}
	m, err := NewLockManager(pool.NewShared(s), cfg)
	require.NoError(t, err)

	token, err := m.WriteLock(context.Background(), "res")
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// one token per call, not per attempt
	_, err = m.WriteLock(context.Background(), "res")
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.EqualValues(t, 2, n.Load())
}

func TestNewLockManagerValidates(t *testing.T) {
	s, _ := localBackend(t)

	_, err := NewLockManager(nil, Config{})
	assert.Error(t, err)

	_, err = NewLockManager(pool.NewShared(s), Config{DelayOffsetMin: time.Second, DelayOffsetMax: time.Millisecond})
	assert.Error(t, err)
}
