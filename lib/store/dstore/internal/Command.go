package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/store"
)

// Command is one raft log entry: a batch of operations applied atomically
// by the state machine.
//
// Timestamp is the proposer's wall clock in milliseconds. The state machine
// uses it as the write index (forced to be strictly increasing) so ttl values
// measured in milliseconds expire on time on every replica alike.
type Command struct {
	Timestamp uint64
	Ops       []store.Op
}

// Serialize encodes the command as
//
//	timestamp u64 (big endian) | ops (see store.AppendOps)
func (command *Command) Serialize() []byte {
	buf := make([]byte, 8, 8+32*len(command.Ops))
	binary.BigEndian.PutUint64(buf, command.Timestamp)
	return store.AppendOps(buf, command.Ops)
}

// Deserialize decodes a command written by Serialize.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("data too short for command")
	}
	command.Timestamp = binary.BigEndian.Uint64(data[:8])

	ops, n, err := store.ReadOps(data[8:])
	if err != nil {
		return err
	}
	if 8+n != len(data) {
		return fmt.Errorf("%d trailing bytes after command", len(data)-8-n)
	}
	command.Ops = ops
	return nil
}
