package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/pkg/errors"
)

// NewGOBSerializer creates a new serializer using Go's gob format
func NewGOBSerializer() IRPCSerializer {
	return gobSerializerImpl{}
}

// gobSerializerImpl encodes every message with a fresh encoder, so each
// payload carries its own type information and can be decoded on its own.
type gobSerializerImpl struct{}

func (gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, errors.Wrapf(err, "gob encode %s", msg.MsgType)
	}
	return buf.Bytes(), nil
}

func (gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(msg); err != nil {
		return errors.Wrap(err, "gob decode")
	}
	return nil
}
