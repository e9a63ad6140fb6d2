package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/pkg/errors"
)

// NewJSONSerializer creates a new serializer using json encoding.
// The message type is written by name (e.g. "readLock").
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	return b, errors.Wrapf(err, "json encode %s", msg.MsgType)
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return errors.Wrap(json.Unmarshal(b, msg), "json decode")
}
