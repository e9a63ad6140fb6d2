// Package server implements the RPC server. A server owns a set of shards,
// each addressed by a shard id and backed by one store:
//
//   - lstore, dstore: the store itself is exposed (all store.IStore methods
//     including atomic batches).
//
//   - lockmgr(lstore), lockmgr(dstore), lockmgr(redis): a lockmgr.ILockManager
//     on that store is exposed. The lock state lives in the store, so
//     lockmgr(dstore) shards of all replicas and lockmgr(redis) shards of all
//     servers on the same redis hand out the same locks.
//
// A taken lock (the acquisition ran out of attempts) is answered with Ok=false
// and no error. All other failures travel as Err (and Code for store errors).
//
// Usage:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalIStore},
//	    {ShardID: 200, Type: common.ShardTypeLocalILockManager},
//	  },
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, socket.NewTCPServerTransport(socket.DefaultTCPBufferSize), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// dstore shards need the raft settings of the config (RTTMillisecond,
// SnapshotEntries, CompactionOverhead, DataDir, ReplicaID, ClusterMembers),
// lockmgr(redis) shards need RedisAddr.
package server
