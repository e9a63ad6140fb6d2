// Package serializer turns common.Message values into bytes and back.
//
// One Message type carries every request and response of the RPC layer:
// single key store operations, batches (Ops and Results), prefix listings
// and the lock manager calls with their tokens. Three encodings exist:
//
//   - NewBinarySerializer: a compact custom format. A 3 byte header holds the
//     message type and a 16 bit flag word marking the fields that follow,
//     absent fields cost nothing. Batches reuse the encoding of the store
//     package. This is the default of the cli.
//   - NewJSONSerializer: readable, handy when debugging with curl against the
//     http transport.
//   - NewGOBSerializer: Go's gob. Slower and larger than binary.
//
// All serializers are stateless and safe for concurrent use. Deserialize
// always resets the target message first, so a Message can be reused:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewLockRequest(common.MsgTLCKReadLock, "doc"))
//	...
//	var resp common.Message
//	err = s.Deserialize(respData, &resp)
package serializer
