package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/pool"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/storetesting"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/server"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	storeShard = 1
	lockShard  = 2
)

// loopbackTransport hands requests straight to a server handler
type loopbackTransport struct {
	handle    transport.ServerHandleFunc
	connected bool
}

func (l *loopbackTransport) Connect(common.ClientConfig) error {
	l.connected = true
	return nil
}

func (l *loopbackTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	if !l.connected {
		return nil, errors.New("not connected")
	}
	return l.handle(shardId, append([]byte(nil), req...)), nil
}

func (l *loopbackTransport) Close() error {
	l.connected = false
	return nil
}

// newServer starts an in-process server with a store and a lock manager shard
func newServer(t *testing.T, ser serializer.IRPCSerializer) transport.ServerHandleFunc {
	t.Helper()
	return newServerWithLock(t, ser, lockmgr.Config{
		BaseDelay:      time.Millisecond,
		DelayOffsetMin: time.Millisecond,
		DelayOffsetMax: time.Millisecond,
		MaxRetries:     2,
	})
}

func newServerWithLock(t *testing.T, ser serializer.IRPCSerializer, lock lockmgr.Config) transport.ServerHandleFunc {
	t.Helper()
	s := server.NewRPCServer(common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: storeShard, Type: common.ShardTypeLocalIStore},
			{ShardID: lockShard, Type: common.ShardTypeLocalILockManager},
		},
		TimeoutSecond: 5,
		LogLevel:      "error",
		Lock:          lock,
	}, http.NewHttpServerTransport(), ser)
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Close() })
	return s.Handle
}

var testSerializers = map[string]func() serializer.IRPCSerializer{
	"JSON":   serializer.NewJSONSerializer,
	"GOB":    serializer.NewGOBSerializer,
	"Binary": serializer.NewBinarySerializer,
}

func TestRPCStore(t *testing.T) {
	for name, factory := range testSerializers {
		storetesting.RunStoreTests(t, "RPCStore/"+name, func(t *testing.T) storetesting.Env {
			ser := factory()
			s, err := NewRPCStore(storeShard, common.ClientConfig{}, &loopbackTransport{handle: newServer(t, ser)}, ser)
			require.NoError(t, err)
			return storetesting.Env{Store: s, Wait: time.Sleep}
		})
	}
}

func TestRPCStoreErrors(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	handle := newServer(t, ser)

	// a lock shard does not answer store requests
	s, err := NewRPCStore(lockShard, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
	require.NoError(t, err)
	_, _, err = s.Get("k")
	assert.Error(t, err)

	// unknown shard
	s, err = NewRPCStore(42, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
	require.NoError(t, err)
	assert.Error(t, s.Set("k", []byte("v")))

	// closed transport
	s, err = NewRPCStore(storeShard, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
	require.NoError(t, err)
	require.NoError(t, s.(interface{ Close() error }).Close())
	_, err = s.Has("k")
	assert.Error(t, err)
}

func TestRPCLockMgr(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			ser := factory()
			handle := newServer(t, ser)
			ctx := context.Background()

			newClient := func() lockmgr.ILockManager {
				m, err := NewRPCLockMgr(lockShard, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
				require.NoError(t, err)
				return m
			}
			a, b := newClient(), newClient()

			// structured ids are normalized on the client
			token, err := a.WriteLock(ctx, []string{"b", "a"})
			require.NoError(t, err)
			require.NotEmpty(t, token)

			_, err = b.ReadLock(ctx, []string{"a", "b"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, lockmgr.ErrLockTimeout))
			var timeout *lockmgr.LockTimeoutError
			require.ErrorAs(t, err, &timeout)
			assert.Equal(t, lockmgr.ModeRead, timeout.Mode)

			released, err := b.WriteRelease(ctx, []string{"a", "b"}, "not-the-token")
			require.NoError(t, err)
			assert.Empty(t, released)

			released, err = b.WriteRelease(ctx, []string{"a", "b"}, token)
			require.NoError(t, err)
			assert.Equal(t, token, released)

			r1, err := a.ReadLock(ctx, "job")
			require.NoError(t, err)
			r2, err := b.ReadLock(ctx, "job")
			require.NoError(t, err)
			assert.NotEqual(t, r1, r2)

			_, err = a.WriteLock(ctx, "job")
			assert.ErrorIs(t, err, lockmgr.ErrLockTimeout)

			for _, r := range []string{r1, r2} {
				released, err := a.ReadRelease(ctx, "job", r)
				require.NoError(t, err)
				assert.Equal(t, r, released)
			}
			_, err = b.WriteLock(ctx, "job")
			assert.NoError(t, err)
		})
	}
}

func TestRPCLockMgrErrors(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	handle := newServer(t, ser)

	// a store shard does not answer lock requests
	m, err := NewRPCLockMgr(storeShard, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
	require.NoError(t, err)
	_, err = m.WriteLock(context.Background(), "job")
	var cmdErr *lockmgr.StoreCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "job", cmdErr.Key)
	assert.False(t, errors.Is(err, lockmgr.ErrLockTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.ReadLock(ctx, "job")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPCLockMgrDeadline(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	// a contended lock would retry for well over a minute
	handle := newServerWithLock(t, ser, lockmgr.Config{
		BaseDelay:      time.Second,
		DelayOffsetMin: time.Millisecond,
		DelayOffsetMax: time.Millisecond,
		MaxRetries:     10,
	})
	m, err := NewRPCLockMgr(lockShard, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
	require.NoError(t, err)

	_, err = m.WriteLock(context.Background(), "job")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = m.ReadLock(ctx, "job")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// an expired deadline is not sent at all
	_, err = m.WriteLock(ctx, "other")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestClientSideLockManager runs the lock manager in the client process on
// pooled RPC stores, the server only serves the store.
func TestClientSideLockManager(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	handle := newServer(t, ser)

	p := pool.New(func(ctx context.Context) (store.IStore, error) {
		return NewRPCStore(storeShard, common.ClientConfig{}, &loopbackTransport{handle: handle}, ser)
	}, pool.Options{MaxActive: 4})
	defer func() { assert.NoError(t, p.Close()) }()

	m, err := lockmgr.NewLockManager(p, lockmgr.Config{
		BaseDelay:      time.Millisecond,
		DelayOffsetMin: time.Millisecond,
		DelayOffsetMax: time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	token, err := m.WriteLock(ctx, "job")
	require.NoError(t, err)

	_, err = m.ReadLock(ctx, "job")
	assert.ErrorIs(t, err, lockmgr.ErrLockTimeout)

	released, err := m.WriteRelease(ctx, "job", token)
	require.NoError(t, err)
	assert.Equal(t, token, released)
	assert.Equal(t, 0, p.Stats().Active)
}
