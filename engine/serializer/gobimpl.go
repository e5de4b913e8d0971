package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dSync/engine/proto"
)

// NewGOBSerializer creates a serializer using encoding/gob.
func NewGOBSerializer() IMessageSerializer {
	return &gobSerializerImpl{}
}

type gobSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (s *gobSerializerImpl) Serialize(msg *proto.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *gobSerializerImpl) Deserialize(b []byte, msg *proto.Message) error {
	*msg = proto.Message{}
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
