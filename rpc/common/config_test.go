package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShardType(t *testing.T) {
	for name, want := range map[string]ServerShardType{
		"lstore":          ShardTypeLocalIStore,
		"dstore":          ShardTypeRemoteIStore,
		"lockmgr(lstore)": ShardTypeLocalILockManager,
		"lockmgr(dstore)": ShardTypeRemoteILockManager,
		"lockmgr(redis)":  ShardTypeRedisILockManager,
	} {
		got, err := ParseShardType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}

	_, err := ParseShardType("lockmgr")
	assert.Error(t, err)
	assert.False(t, ShardTypeLocalIStore.IsLockManager())
	assert.True(t, ShardTypeRedisILockManager.IsLockManager())
}

func TestServerConfigString(t *testing.T) {
	c := ServerConfig{
		Shards: []ServerShard{
			{ShardID: 100, Type: ShardTypeLocalIStore},
			{ShardID: 200, Type: ShardTypeRedisILockManager},
		},
		RedisAddr: "localhost:6379",
		Transport: ServerTransportConfig{Type: "tcp", Endpoint: "0.0.0.0:8080"},
	}
	assert.True(t, c.HasLockManagerShard())
	assert.True(t, c.HasRedisShard())
	assert.False(t, c.HasRemoteShard())

	out := c.String()
	assert.Contains(t, out, "LOCK MANAGER")
	assert.Contains(t, out, "4m0s") // default read lock ttl
	assert.Contains(t, out, "localhost:6379")
	assert.NotContains(t, out, "RAFT")

	c.Shards = append(c.Shards, ServerShard{ShardID: 300, Type: ShardTypeRemoteILockManager})
	c.ReplicaID = 1
	c.ClusterMembers = map[uint64]string{2: "b:63001", 1: "a:63001"}
	out = c.String()
	assert.Contains(t, out, "RAFT")
	assert.Less(t, strings.Index(out, "a:63001\n"), strings.Index(out, "b:63001"))
}

func TestClientConfigString(t *testing.T) {
	c := ClientConfig{Endpoints: []string{"a:1", "b:2"}, Transport: "http", Serializer: "json"}
	out := c.String()
	assert.Contains(t, out, "a:1")
	assert.Contains(t, out, "b:2")
	assert.Regexp(t, `Conns Per Endpoint\s+: 1`, out)
}
