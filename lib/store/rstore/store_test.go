package rstore

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store/storetesting"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) storetesting.Env {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, time.Second)
	t.Cleanup(func() { _ = s.(*storeImpl).Close() })
	return storetesting.Env{Store: s, Wait: mr.FastForward}
}

func TestRedisStore(t *testing.T) {
	storetesting.RunStoreTests(t, "RedisStore", newStore)
}

func TestKeysPattern(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "*"},
		{"read:job:", "read:job:*"},
		{"read:a*b:", `read:a\*b:*`},
		{"read:[x]?:", `read:\[x\]\?:*`},
		{`read:a\b:`, `read:a\\b:*`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keysPattern(tt.prefix), tt.prefix)
	}
}

func TestGetDBInfo(t *testing.T) {
	s := newStore(t).Store
	require.NoError(t, s.Set("a", []byte("1")))
	require.NoError(t, s.Set("b", []byte("2")))

	info, err := s.GetDBInfo()
	require.NoError(t, err)
	assert.Equal(t, db.ImplRedis, info.DbType)
	assert.Contains(t, info.SupportedFeatures, db.FeatureDeleteIfEqual)
	assert.EqualValues(t, 2, info.Metadata.(map[string]any)["keys"])
}

func TestUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedisStore(client, 200*time.Millisecond)
	mr.Close()

	_, err := s.SetEIfUnset("k", []byte("v"), time.Second)
	assert.Error(t, err)
}
