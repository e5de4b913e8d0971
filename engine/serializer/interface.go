package serializer

import "github.com/ValentinKolb/dSync/engine/proto"

// IMessageSerializer is the interface for all protocol message codecs.
type IMessageSerializer interface {
	// Serialize encodes a Message into a byte slice.
	Serialize(msg *proto.Message) ([]byte, error)
	// Deserialize decodes a byte slice into the provided Message.
	Deserialize(b []byte, msg *proto.Message) error
}
