package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dSync/engine/proto"
)

// NewJSONSerializer creates a serializer using encoding/json. Mainly
// useful for debugging, since frames become human-readable.
func NewJSONSerializer() IMessageSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (s *jsonSerializerImpl) Serialize(msg *proto.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (s *jsonSerializerImpl) Deserialize(b []byte, msg *proto.Message) error {
	*msg = proto.Message{}
	return json.Unmarshal(b, msg)
}
