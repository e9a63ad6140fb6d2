package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingStore records Close calls.
type countingStore struct {
	store.IStore
	closed *atomic.Int32
	err    error
}

func (c *countingStore) Close() error {
	c.closed.Add(1)
	if closer, ok := c.IStore.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return c.err
}

type testFactory struct {
	opened atomic.Int32
	closed atomic.Int32
	err    error // returned by Close of every store
}

func (f *testFactory) open(context.Context) (store.IStore, error) {
	f.opened.Add(1)
	return &countingStore{
		IStore: lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }),
		closed: &f.closed,
		err:    f.err,
	}, nil
}

func TestAcquireReusesReleasedStores(t *testing.T) {
	f := &testFactory{}
	p := New(f.open, Options{MaxActive: 2})
	defer p.Close()

	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1}, p.Stats())

	p.Release(s1)
	assert.Equal(t, Stats{Idle: 1}, p.Stats())

	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.EqualValues(t, 1, f.opened.Load())
	p.Release(s2)
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	f := &testFactory{}
	p := New(f.open, Options{MaxActive: 1})
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// a release unblocks a waiting borrower
	got := make(chan store.IStore)
	go func() {
		s, _ := p.Acquire(context.Background())
		got <- s
	}()
	time.Sleep(10 * time.Millisecond)
	p.Release(s)

	select {
	case s2 := <-got:
		assert.Same(t, s, s2)
		p.Release(s2)
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire was not woken by Release")
	}
}

func TestDoubleReleaseIsIgnored(t *testing.T) {
	f := &testFactory{}
	p := New(f.open, Options{MaxActive: 1})
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(s)
	p.Release(s)
	p.Release(nil)

	assert.Equal(t, Stats{Idle: 1}, p.Stats())

	// the second release must not have freed a second slot
	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.Error(t, err)
	p.Release(s1)
}

func TestFactoryErrorFreesSlot(t *testing.T) {
	calls := 0
	p := New(func(ctx context.Context) (store.IStore, error) {
		calls++
		return nil, errors.New("dial failed")
	}, Options{MaxActive: 1})
	defer p.Close()

	for i := 0; i < 3; i++ {
		_, err := p.Acquire(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dial failed")
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, Stats{}, p.Stats())
}

func TestCloseClosesStores(t *testing.T) {
	f := &testFactory{}
	p := New(f.open, Options{MaxActive: 4})

	var borrowed []store.IStore
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background())
		require.NoError(t, err)
		borrowed = append(borrowed, s)
	}
	p.Release(borrowed[0])
	p.Release(borrowed[1])

	require.NoError(t, p.Close())
	assert.EqualValues(t, 2, f.closed.Load(), "idle stores are closed")

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// borrowed stores are closed on release
	p.Release(borrowed[2])
	assert.EqualValues(t, 3, f.closed.Load())

	require.NoError(t, p.Close(), "second close is a no-op")
}

func TestCloseAggregatesErrors(t *testing.T) {
	f := &testFactory{err: errors.New("boom")}
	p := New(f.open, Options{MaxActive: 2})

	s1, _ := p.Acquire(context.Background())
	s2, _ := p.Acquire(context.Background())
	p.Release(s1)
	p.Release(s2)

	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestMaxIdle(t *testing.T) {
	f := &testFactory{}
	p := New(f.open, Options{MaxActive: 3, MaxIdle: 1})
	defer p.Close()

	var borrowed []store.IStore
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background())
		require.NoError(t, err)
		borrowed = append(borrowed, s)
	}
	for _, s := range borrowed {
		p.Release(s)
	}

	assert.Equal(t, Stats{Idle: 1}, p.Stats())
	assert.EqualValues(t, 2, f.closed.Load())
}

func TestConcurrentBorrowers(t *testing.T) {
	f := &testFactory{}
	p := New(f.open, Options{MaxActive: 4})
	defer p.Close()

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer p.Release(s)

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			_ = s.Set("k", []byte("v"))
			time.Sleep(time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.LessOrEqual(t, f.opened.Load(), int32(4))
	assert.Equal(t, 0, p.Stats().Active)
}

func TestShared(t *testing.T) {
	s := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	defer s.(interface{ Close() error }).Close()
	p := NewShared(s)

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, got)
	p.Release(got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
