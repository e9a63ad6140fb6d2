// Package dstore implements a replicated key-value store on top of the Dragonboat
// RAFT library. It is the store.IStore that lock managers use when lock state has
// to survive the loss of a node.
//
// Architecture:
//
//   - Store Client: implements store.IStore. Every batch (and every single
//     operation, which is a batch of one) is encoded into one internal.Command
//     and proposed with SyncPropose. The encoded results come back in the
//     proposal result.
//
//   - State Machine: a Dragonboat IConcurrentStateMachine holding the actual
//     db.KVDB. Update decodes the command and applies all of its operations
//     under a single write index, so a batch is atomic on every replica.
//
//   - Protocol: internal.Command (log entries) and internal.Query (metadata
//     lookups, never serialized).
//
// Time and expiry:
//
//	Ttl is measured on the write index, which is the proposer's wall clock in
//	milliseconds. The state machine uses max(last index + 1, command timestamp),
//	so the index only depends on the log and is the same on every replica.
//	Lookups never move the index. That is why Get, Has and Keys are proposed
//	like writes: a read through the log sees the key expired as soon as the
//	proposer's clock has passed its deadline.
//
// Errors and retries:
//
//	ErrSystemBusy is retried a few times with a short pause. All other
//	failures are returned as *store.Error. A command the state machine
//	rejects (invalid batch, unsupported feature) carries its RetCode in
//	Result.Value and the message in Result.Data.
//
// Snapshots:
//
//	Snapshots are fuzzy and use db.KVDB Save and Load. The write index is part
//	of the snapshot, a recovered replica continues with the same clock.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }
//
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMachineFactory(dbFactory),
//	    shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
//
// For a single process without replication use lstore.
package dstore
