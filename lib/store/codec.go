package store

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Binary encoding of operations and results. Used for the raft log entries of
// the distributed store and by the binary rpc serializer.
//
// Ops:     count u32 | count * ( type u8 | ttlMs u64 | keyLen u32 | key | valueLen u32 | value )
// Results: count u32 | count * ( flags u8 | valueLen u32 | value | keyCount u32 | keyCount * ( len u32 | key ) )
//
// All integers are big endian. flags bit 0 = Ok, bit 1 = Value present.

const (
	resultFlagOk    = 1 << 0
	resultFlagValue = 1 << 1
)

// AppendOps appends the encoding of ops to dst.
func AppendOps(dst []byte, ops []Op) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(ops)))
	for _, op := range ops {
		dst = append(dst, byte(op.Type))
		dst = binary.BigEndian.AppendUint64(dst, TTLToIndex(op.TTL))
		dst = appendBytes(dst, []byte(op.Key))
		dst = appendBytes(dst, op.Value)
	}
	return dst
}

// ReadOps decodes ops from data and returns the number of bytes consumed.
func ReadOps(data []byte) ([]Op, int, error) {
	r := reader{data: data}
	n := r.u32()
	if r.err == nil && uint64(n) > uint64(len(data)) {
		return nil, 0, fmt.Errorf("op count %d exceeds data length", n)
	}
	ops := make([]Op, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		var op Op
		op.Type = OpType(r.u8())
		op.TTL = time.Duration(r.u64()) * time.Millisecond
		op.Key = string(r.field())
		if v := r.field(); len(v) > 0 {
			op.Value = v
		}
		ops = append(ops, op)
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	return ops, r.pos, nil
}

// AppendResults appends the encoding of results to dst.
func AppendResults(dst []byte, results []Result) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(results)))
	for _, res := range results {
		var flags byte
		if res.Ok {
			flags |= resultFlagOk
		}
		if res.Value != nil {
			flags |= resultFlagValue
		}
		dst = append(dst, flags)
		dst = appendBytes(dst, res.Value)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(res.Keys)))
		for _, k := range res.Keys {
			dst = appendBytes(dst, []byte(k))
		}
	}
	return dst
}

// ReadResults decodes results from data and returns the number of bytes consumed.
func ReadResults(data []byte) ([]Result, int, error) {
	r := reader{data: data}
	n := r.u32()
	if r.err == nil && uint64(n) > uint64(len(data)) {
		return nil, 0, fmt.Errorf("result count %d exceeds data length", n)
	}
	results := make([]Result, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		var res Result
		flags := r.u8()
		res.Ok = flags&resultFlagOk != 0
		value := r.field()
		if flags&resultFlagValue != 0 {
			res.Value = value
			if res.Value == nil {
				res.Value = []byte{}
			}
		}
		keyCount := r.u32()
		if keyCount > 0 && r.err == nil {
			if uint64(keyCount) > uint64(len(data)) {
				return nil, 0, fmt.Errorf("key count %d exceeds data length", keyCount)
			}
			res.Keys = make([]string, 0, keyCount)
			for j := uint32(0); j < keyCount && r.err == nil; j++ {
				res.Keys = append(res.Keys, string(r.field()))
			}
		}
		results = append(results, res)
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	return results, r.pos, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// reader is a bounds checked cursor. The first error sticks and turns all
// further reads into no-ops.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.data)-r.pos < n {
		r.err = fmt.Errorf("data too short: need %d bytes at offset %d, have %d", n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// field returns a copy of the next length prefixed field, nil if it is empty.
func (r *reader) field() []byte {
	n := int(r.u32())
	if n == 0 || !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}
