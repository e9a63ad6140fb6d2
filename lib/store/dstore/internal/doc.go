// Package internal holds the protocol between the dstore client and the
// replicated state machine.
//
//   - Command: a write. One Command is one raft log entry and carries a whole
//     batch of store operations plus the proposer's timestamp. The encoding is
//     an 8 byte big endian timestamp followed by the operations in the
//     store package's binary op format.
//     Key reads (Get, Has, Keys) are Commands too, so the proposer's clock
//     decides which keys are expired.
//   - Query: a metadata read (GetDBInfo, WriteIdx). Queries are passed to the
//     state machine in memory and are never serialized.
//
// The types are not safe for concurrent use.
package internal
