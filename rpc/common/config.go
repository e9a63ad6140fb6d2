package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 2
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLocalIStore        ServerShardType = "local store"
	ShardTypeRemoteIStore       ServerShardType = "remote store"
	ShardTypeLocalILockManager  ServerShardType = "local lock manager"
	ShardTypeRemoteILockManager ServerShardType = "remote lock manager"
	ShardTypeRedisILockManager  ServerShardType = "redis lock manager"
)

// ParseShardType converts the cli name of a shard type (e.g. "lockmgr(lstore)").
func ParseShardType(name string) (ServerShardType, error) {
	switch name {
	case "lstore":
		return ShardTypeLocalIStore, nil
	case "dstore":
		return ShardTypeRemoteIStore, nil
	case "lockmgr(lstore)":
		return ShardTypeLocalILockManager, nil
	case "lockmgr(dstore)":
		return ShardTypeRemoteILockManager, nil
	case "lockmgr(redis)":
		return ShardTypeRedisILockManager, nil
	default:
		return "", fmt.Errorf("invalid shard type: %s (expected one of: lstore, dstore, lockmgr(lstore), lockmgr(dstore), lockmgr(redis))", name)
	}
}

// IsLockManager reports whether the shard serves lock requests (instead of store requests).
func (t ServerShardType) IsLockManager() bool {
	return t == ShardTypeLocalILockManager || t == ShardTypeRemoteILockManager || t == ShardTypeRedisILockManager
}

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type decides the store and the adapter of the shard
	Type ServerShardType
}

// ServerConfig holds all configuration parameters for the RAFT cluster.
type ServerConfig struct {
	// whether to start the server in single node mode or in a cluster
	Shards []ServerShard

	// Dragenboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote kvStore parameters
	TimeoutSecond int64

	// redis parameters (lockmgr(redis) shards)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// lock manager parameters, shared by all lock manager shards
	Lock lockmgr.Config

	// transport settings
	Transport ServerTransportConfig

	// Logging configuration
	LogLevel string
}

// ServerTransportConfig selects how the server is reached.
type ServerTransportConfig struct {
	// Type is one of http, tcp, unix
	Type string
	// Serializer is one of json, gob, binary
	Serializer string
	// Endpoint is the address to listen on (host:port or a socket path)
	Endpoint string
	// BufferSize of the socket transports
	BufferSize int
}

// HasLockManagerShard checks if the configuration contains any lock manager shards
func (c *ServerConfig) HasLockManagerShard() bool {
	for _, shard := range c.Shards {
		if shard.Type.IsLockManager() {
			return true
		}
	}
	return false
}

// HasRedisShard checks if the configuration contains any redis shards
func (c *ServerConfig) HasRedisShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeRedisILockManager {
			return true
		}
	}
	return false
}

// HasRemoteShard checks if the configuration contains any remote shards
func (c *ServerConfig) HasRemoteShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeRemoteIStore || shard.Type == ShardTypeRemoteILockManager {
			return true
		}
	}
	return false
}

// String renders the configuration for the startup log
func (c *ServerConfig) String() string {
	var p configPrinter

	p.section("RPC Server")
	p.field("Endpoint", c.Transport.Endpoint)
	p.field("Transport", c.Transport.Type)
	p.field("Serializer", c.Transport.Serializer)
	p.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	p.field("Log Level", c.LogLevel)

	p.section("Shards")
	for _, shard := range c.Shards {
		p.field(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if c.HasLockManagerShard() {
		lock := c.Lock.WithDefaults()
		p.section("Lock Manager")
		p.field("Read Lock TTL", lock.ReadLockTTL.String())
		p.field("Write Lock TTL", lock.WriteLockTTL.String())
		p.field("Backoff", fmt.Sprintf("%s (+%s..%s)", lock.BaseDelay, lock.DelayOffsetMin, lock.DelayOffsetMax))
		p.field("Max Retries", strconv.Itoa(lock.MaxRetries))
	}

	if c.HasRedisShard() {
		p.section("Redis")
		p.field("Address", c.RedisAddr)
		p.field("Database", strconv.Itoa(c.RedisDB))
	}

	if c.HasRemoteShard() {
		p.section("Raft")
		p.field("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		p.field("Raft Address", c.ClusterMembers[c.ReplicaID])
		p.field("RTT", fmt.Sprintf("%d ms (election x%d, heartbeat x%d)", c.RTTMillisecond, electionRTTFactor, heartbeatRTTFactor))
		p.field("Snapshot Entries", strconv.FormatUint(c.SnapshotEntries, 10))
		p.field("Compaction Overhead", strconv.FormatUint(c.CompactionOverhead, 10))
		p.field("Data Directory", c.DataDir)

		ids := make([]uint64, 0, len(c.ClusterMembers))
		for id := range c.ClusterMembers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		p.section("Initial Members")
		for _, id := range ids {
			p.field(strconv.FormatUint(id, 10), c.ClusterMembers[id])
		}
	}
	return p.String()
}

// configPrinter renders aligned "name: value" lines grouped in sections
type configPrinter struct {
	strings.Builder
}

func (p *configPrinter) section(title string) {
	fmt.Fprintf(p, "\n%s\n", strings.ToUpper(title))
}

func (p *configPrinter) field(name, value string) {
	fmt.Fprintf(p, "  %-22s: %s\n", name, value)
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	// Transport is one of http, tcp, unix
	Transport string
	// Serializer is one of json, gob, binary
	Serializer string
}

// String renders the configuration for the cli
func (c *ClientConfig) String() string {
	var p configPrinter

	p.section("Client")
	p.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	p.field("Retry Count", strconv.Itoa(c.RetryCount))
	p.field("Conns Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))
	p.field("Transport", c.Transport)
	p.field("Serializer", c.Serializer)

	p.section("Endpoints")
	for i, endpoint := range c.Endpoints {
		p.field(strconv.Itoa(i), endpoint)
	}
	return p.String()
}
