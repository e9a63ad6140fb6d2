package serializer

import "github.com/ValentinKolb/dLock/rpc/common"

// IRPCSerializer converts messages to and from their wire format.
type IRPCSerializer interface {
	// Serialize encodes msg
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Fields of msg not present in b are zero
	// afterwards.
	Deserialize(b []byte, msg *common.Message) error
}
