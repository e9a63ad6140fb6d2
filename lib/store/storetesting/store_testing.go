package storetesting

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Env is a fresh store under test.
type Env struct {
	Store store.IStore
	// Wait lets d pass on the clock the store uses for ttl
	// (time.Sleep for real stores, FastForward for miniredis, ...).
	Wait func(d time.Duration)
}

// Factory creates a new, empty store for every sub test.
// Cleanup should be registered with t.Cleanup.
type Factory func(t *testing.T) Env

// RunStoreTests runs the conformance suite every store.IStore has to pass.
func RunStoreTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("SetGet", func(t *testing.T) { testSetGet(t, factory(t)) })
		t.Run("TTL", func(t *testing.T) { testTTL(t, factory(t)) })
		t.Run("SetEIfUnset", func(t *testing.T) { testSetEIfUnset(t, factory(t)) })
		t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
		t.Run("DeleteIfEqual", func(t *testing.T) { testDeleteIfEqual(t, factory(t)) })
		t.Run("Keys", func(t *testing.T) { testKeys(t, factory(t)) })
		t.Run("ExecResults", func(t *testing.T) { testExecResults(t, factory(t)) })
		t.Run("ExecInvalid", func(t *testing.T) { testExecInvalid(t, factory(t)) })
		t.Run("ExecLockPattern", func(t *testing.T) { testExecLockPattern(t, factory(t)) })
		t.Run("ExecContention", func(t *testing.T) { testExecContention(t, factory(t)) })
		t.Run("DBInfo", func(t *testing.T) { testDBInfo(t, factory(t)) })
	})
}

func testSetGet(t *testing.T, env Env) {
	s := env.Store

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("k", []byte("v1")))
	value, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, s.Set("k", []byte("v2")))
	value, _, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	has, err := s.Has("k")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.Has("missing")
	require.NoError(t, err)
	assert.False(t, has)
}

func testTTL(t *testing.T, env Env) {
	s := env.Store

	require.NoError(t, s.SetE("short", []byte("x"), 100*time.Millisecond))
	require.NoError(t, s.SetE("long", []byte("x"), time.Hour))
	require.NoError(t, s.SetE("forever", []byte("x"), 0))

	has, err := s.Has("short")
	require.NoError(t, err)
	require.True(t, has)

	env.Wait(300 * time.Millisecond)

	has, err = s.Has("short")
	require.NoError(t, err)
	assert.False(t, has, "short lived key should be gone")

	_, ok, err := s.Get("short")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range []string{"long", "forever"} {
		has, err = s.Has(k)
		require.NoError(t, err)
		assert.True(t, has, "%s should still exist", k)
	}

	// an expired key counts as unset
	stored, err := s.SetEIfUnset("short", []byte("y"), time.Hour)
	require.NoError(t, err)
	assert.True(t, stored)
}

func testSetEIfUnset(t *testing.T, env Env) {
	s := env.Store

	stored, err := s.SetEIfUnset("k", []byte("first"), time.Hour)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = s.SetEIfUnset("k", []byte("second"), time.Hour)
	require.NoError(t, err)
	assert.False(t, stored)

	value, _, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func testDelete(t *testing.T, env Env) {
	s := env.Store

	require.NoError(t, s.Set("k", []byte("v")))

	deleted, err := s.Delete("k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete("k")
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing key reports false")

	has, err := s.Has("k")
	require.NoError(t, err)
	assert.False(t, has)
}

func testDeleteIfEqual(t *testing.T, env Env) {
	s := env.Store

	require.NoError(t, s.SetE("write:job", []byte("token-a"), time.Hour))

	deleted, err := s.DeleteIfEqual("write:job", []byte("token-b"))
	require.NoError(t, err)
	assert.False(t, deleted, "foreign token must not delete")

	has, err := s.Has("write:job")
	require.NoError(t, err)
	assert.True(t, has)

	deleted, err = s.DeleteIfEqual("write:job", []byte("token-a"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteIfEqual("write:job", []byte("token-a"))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testKeys(t *testing.T, env Env) {
	s := env.Store

	for _, k := range []string{"read:a:3", "read:a:1", "read:ab:1", "write:a", "read:a:2"} {
		require.NoError(t, s.Set(k, []byte("1")))
	}

	keys, err := s.Keys("read:a:")
	require.NoError(t, err)
	assert.Equal(t, []string{"read:a:1", "read:a:2", "read:a:3"}, keys)

	keys, err = s.Keys("read:nothing:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testExecResults(t *testing.T, env Env) {
	s := env.Store

	require.NoError(t, s.Set("existing", []byte("v")))

	results, err := s.Exec(store.NewBatch().
		Set("a", []byte("1")).
		SetE("b", []byte("2"), time.Hour).
		SetEIfUnset("existing", []byte("x"), time.Hour).
		Get("a").
		Get("missing").
		Has("b").
		Delete("a").
		DeleteIfEqual("existing", []byte("v")).
		Keys("b"))
	require.NoError(t, err)
	require.Len(t, results, 9)

	assert.True(t, results[0].Ok, "Set")
	assert.True(t, results[1].Ok, "SetE")
	assert.False(t, results[2].Ok, "SetEIfUnset on existing key")
	assert.True(t, results[3].Ok, "Get a")
	assert.Equal(t, []byte("1"), results[3].Value, "ops see the effects of earlier ops in the batch")
	assert.False(t, results[4].Ok, "Get missing")
	assert.True(t, results[5].Ok, "Has b")
	assert.True(t, results[6].Ok, "Delete a")
	assert.True(t, results[7].Ok, "DeleteIfEqual existing")
	assert.Equal(t, []string{"b"}, results[8].Keys)
}

func testExecInvalid(t *testing.T, env Env) {
	s := env.Store

	_, err := s.Exec(store.NewBatch())
	require.Error(t, err)
	var serr *store.Error
	require.True(t, errors.As(err, &serr), "expected *store.Error, got %T", err)
	assert.Equal(t, store.RetCInvalidOperation, serr.Code)

	_, err = s.Exec(&store.Batch{Ops: []store.Op{{Type: store.OpType(200), Key: "k"}}})
	require.Error(t, err)
}

// testExecLockPattern runs the read and write acquisition batches of the lock
// manager against each other.
func testExecLockPattern(t *testing.T, env Env) {
	s := env.Store

	readBatch := func(token string) []store.Result {
		res, err := s.Exec(store.NewBatch().
			SetEIfUnset("read:id:"+token, []byte("1"), time.Minute).
			Get("write:id"))
		require.NoError(t, err)
		return res
	}
	writeBatch := func(token string) []store.Result {
		res, err := s.Exec(store.NewBatch().
			SetEIfUnset("write:id", []byte(token), time.Minute).
			Keys("read:id:"))
		require.NoError(t, err)
		return res
	}

	// reader on a free id
	res := readBatch("r1")
	assert.True(t, res[0].Ok)
	assert.False(t, res[1].Ok)

	// writer sees the reader
	res = writeBatch("w1")
	assert.True(t, res[0].Ok)
	assert.Equal(t, []string{"read:id:r1"}, res[1].Keys)

	// a second reader sees the (not yet cleaned up) writer
	res = readBatch("r2")
	assert.True(t, res[0].Ok)
	assert.True(t, res[1].Ok)
	assert.Equal(t, []byte("w1"), res[1].Value)
}

func testExecContention(t *testing.T, env Env) {
	s := env.Store

	const workers = 16
	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			res, err := s.Exec(store.NewBatch().
				SetEIfUnset("write:contended", []byte(fmt.Sprint(w)), time.Minute).
				Keys("read:contended:"))
			if assert.NoError(t, err) && res[0].Ok && len(res[1].Keys) == 0 {
				granted.Add(1)
			}
		}(w)
	}
	wg.Wait()

	assert.EqualValues(t, 1, granted.Load(), "exactly one writer may win")
}

func testDBInfo(t *testing.T, env Env) {
	require.NoError(t, env.Store.Set("k", []byte("v")))
	info, err := env.Store.GetDBInfo()
	require.NoError(t, err)
	assert.NotEmpty(t, info.DbType)
}
