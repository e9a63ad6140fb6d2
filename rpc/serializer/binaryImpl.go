package serializer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte) | flags (2 bytes) | present fields in flag order.
// Strings and byte slices are prefixed with a 4 byte length, Ops and Results
// use the store package's batch encoding.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey     uint16 = 1 << 0
	hasValue   uint16 = 1 << 1
	hasTTL     uint16 = 1 << 2
	hasToken   uint16 = 1 << 3
	hasOps     uint16 = 1 << 4
	hasResults uint16 = 1 << 5
	hasKeys    uint16 = 1 << 6
	hasOk      uint16 = 1 << 7
	hasCode    uint16 = 1 << 8
	hasErr     uint16 = 1 << 9
	hasMeta    uint16 = 1 << 10
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16

	if msg.Key != "" {
		flags |= hasKey
		result = appendField(result, []byte(msg.Key))
	}
	if msg.Value != nil {
		flags |= hasValue
		result = appendField(result, msg.Value)
	}
	if msg.TTL != 0 {
		flags |= hasTTL
		result = binary.BigEndian.AppendUint64(result, uint64(msg.TTL))
	}
	if msg.Token != "" {
		flags |= hasToken
		result = appendField(result, []byte(msg.Token))
	}
	if msg.Ops != nil {
		flags |= hasOps
		result = store.AppendOps(result, msg.Ops)
	}
	if msg.Results != nil {
		flags |= hasResults
		result = store.AppendResults(result, msg.Results)
	}
	if msg.Keys != nil {
		flags |= hasKeys
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Keys)))
		for _, k := range msg.Keys {
			result = appendField(result, []byte(k))
		}
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Code != store.RetCSuccess {
		flags |= hasCode
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Code))
	}
	if msg.Err != "" {
		flags |= hasErr
		result = appendField(result, []byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		result = appendField(result, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := &cursor{data: data, pos: headerSize}

	if flags&hasKey != 0 {
		msg.Key = string(r.field("key"))
	}
	if flags&hasValue != 0 {
		msg.Value = r.field("value")
	}
	if flags&hasTTL != 0 {
		msg.TTL = time.Duration(r.u64("ttl"))
	}
	if flags&hasToken != 0 {
		msg.Token = string(r.field("token"))
	}
	if flags&hasOps != 0 && r.err == nil {
		ops, n, err := store.ReadOps(data[r.pos:])
		if err != nil {
			return fmt.Errorf("invalid ops: %w", err)
		}
		msg.Ops = ops
		r.pos += n
	}
	if flags&hasResults != 0 && r.err == nil {
		results, n, err := store.ReadResults(data[r.pos:])
		if err != nil {
			return fmt.Errorf("invalid results: %w", err)
		}
		msg.Results = results
		r.pos += n
	}
	if flags&hasKeys != 0 {
		n := r.u32("key count")
		if r.err == nil && uint64(n) > uint64(len(data)) {
			return fmt.Errorf("key count %d exceeds data length", n)
		}
		msg.Keys = make([]string, 0, n)
		for i := uint32(0); i < n && r.err == nil; i++ {
			msg.Keys = append(msg.Keys, string(r.field("keys")))
		}
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasCode != 0 {
		msg.Code = store.RetCode(r.u64("code"))
	}
	if flags&hasErr != 0 {
		msg.Err = string(r.field("error"))
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.field("meta")
	}

	if r.err != nil {
		return r.err
	}
	if r.pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-r.pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes estimates the size of the fixed width and length prefixed fields,
// batches grow the buffer as needed
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize + 4 + len(msg.Key) + 4 + len(msg.Value) + 8 + 4 + len(msg.Token) +
		8 + 4 + len(msg.Err) + 4 + len(msg.Meta)
	for _, k := range msg.Keys {
		size += 4 + len(k)
	}
	return size
}

func appendField(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// cursor reads length prefixed fields. The first error sticks.
type cursor struct {
	data []byte
	pos  int
	err  error
}

func (c *cursor) need(n int, what string) bool {
	if c.err != nil {
		return false
	}
	if len(c.data)-c.pos < n {
		c.err = fmt.Errorf("data too short for %s", what)
		return false
	}
	return true
}

func (c *cursor) u32(what string) uint32 {
	if !c.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) u64(what string) uint64 {
	if !c.need(8, what) {
		return 0
	}
	v := binary.BigEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v
}

// field returns a copy of a length prefixed field, never nil
func (c *cursor) field(what string) []byte {
	n := int(c.u32(what + " length"))
	if !c.need(n, what) {
		return nil
	}
	out := make([]byte, n)
	copy(out, c.data[c.pos:c.pos+n])
	c.pos += n
	return out
}
