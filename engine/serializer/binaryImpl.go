package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dSync/engine/proto"
)

// NewBinarySerializer creates a new serializer using a custom binary
// format optimized for speed and efficiency. This is the wire default.
func NewBinarySerializer() IMessageSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IMessageSerializer using a custom
// binary format: one type byte, two flag bytes indicating which optional
// fields are present, then the present fields in a fixed order with
// big-endian length prefixes.
type binarySerializerImpl struct{}

// Bit flags to indicate which optional fields are present
const (
	hasName       uint16 = 1 << 0
	hasVersions   uint16 = 1 << 1
	hasDomains    uint16 = 1 << 2
	hasNonce      uint16 = 1 << 3
	hasDomain     uint16 = 1 << 4
	hasRangeStart uint16 = 1 << 5
	hasRangeEnd   uint16 = 1 << 6
	hasWatermark  uint16 = 1 << 7
	hasCount      uint16 = 1 << 8
	hasKeys       uint16 = 1 << 9
	hasKey        uint16 = 1 << 10
	hasValue      uint16 = 1 << 11
	hasFound      uint16 = 1 << 12
	hasErr        uint16 = 1 << 13
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (b *binarySerializerImpl) Serialize(msg *proto.Message) ([]byte, error) {
	result := make([]byte, 0, b.sizeBytes(msg))

	// Message type plus a placeholder for the flags
	result = append(result, byte(msg.MsgType), 0, 0)

	var flags uint16

	if msg.Name != "" {
		flags |= hasName
		result = appendBytes(result, []byte(msg.Name))
	}

	if len(msg.ProtocolVersions) > 0 {
		flags |= hasVersions
		result = binary.BigEndian.AppendUint16(result, uint16(len(msg.ProtocolVersions)))
		for _, v := range msg.ProtocolVersions {
			result = binary.BigEndian.AppendUint16(result, v)
		}
	}

	if len(msg.Domains) > 0 {
		flags |= hasDomains
		result = binary.BigEndian.AppendUint16(result, uint16(len(msg.Domains)))
		for _, d := range msg.Domains {
			result = appendBytes(result, []byte(d))
		}
	}

	if msg.Nonce != nil {
		flags |= hasNonce
		result = appendBytes(result, msg.Nonce)
	}

	if msg.Domain != "" {
		flags |= hasDomain
		result = appendBytes(result, []byte(msg.Domain))
	}

	if msg.RangeStart != nil {
		flags |= hasRangeStart
		result = appendBytes(result, msg.RangeStart)
	}

	if msg.RangeEnd != nil {
		flags |= hasRangeEnd
		result = appendBytes(result, msg.RangeEnd)
	}

	if msg.Watermark != 0 {
		flags |= hasWatermark
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Watermark))
	}

	if msg.Count != 0 {
		flags |= hasCount
		result = binary.BigEndian.AppendUint64(result, msg.Count)
	}

	if msg.Keys != nil {
		flags |= hasKeys
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Keys)))
		for _, k := range msg.Keys {
			result = appendBytes(result, k)
		}
	}

	if msg.Key != nil {
		flags |= hasKey
		result = appendBytes(result, msg.Key)
	}

	if msg.Value != nil {
		flags |= hasValue
		result = appendBytes(result, msg.Value)
	}

	if msg.Found {
		flags |= hasFound
		result = append(result, 1)
	}

	if msg.Err != "" {
		flags |= hasErr
		result = appendBytes(result, []byte(msg.Err))
	}

	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b *binarySerializerImpl) Deserialize(data []byte, msg *proto.Message) error {
	if len(data) < 3 {
		return fmt.Errorf("data too short for message header")
	}

	*msg = proto.Message{MsgType: proto.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: 3}

	if flags&hasName != 0 {
		raw, err := r.bytes("name")
		if err != nil {
			return err
		}
		msg.Name = string(raw)
	}

	if flags&hasVersions != 0 {
		n, err := r.uint16("version count")
		if err != nil {
			return err
		}
		msg.ProtocolVersions = make([]uint16, n)
		for i := range msg.ProtocolVersions {
			if msg.ProtocolVersions[i], err = r.uint16("version"); err != nil {
				return err
			}
		}
	}

	if flags&hasDomains != 0 {
		n, err := r.uint16("domain count")
		if err != nil {
			return err
		}
		msg.Domains = make([]string, n)
		for i := range msg.Domains {
			raw, err := r.bytes("domain name")
			if err != nil {
				return err
			}
			msg.Domains[i] = string(raw)
		}
	}

	if flags&hasNonce != 0 {
		raw, err := r.bytes("nonce")
		if err != nil {
			return err
		}
		msg.Nonce = raw
	}

	if flags&hasDomain != 0 {
		raw, err := r.bytes("domain")
		if err != nil {
			return err
		}
		msg.Domain = string(raw)
	}

	if flags&hasRangeStart != 0 {
		raw, err := r.bytes("range start")
		if err != nil {
			return err
		}
		msg.RangeStart = raw
	}

	if flags&hasRangeEnd != 0 {
		raw, err := r.bytes("range end")
		if err != nil {
			return err
		}
		msg.RangeEnd = raw
	}

	if flags&hasWatermark != 0 {
		v, err := r.uint64("watermark")
		if err != nil {
			return err
		}
		msg.Watermark = int64(v)
	}

	if flags&hasCount != 0 {
		v, err := r.uint64("count")
		if err != nil {
			return err
		}
		msg.Count = v
	}

	if flags&hasKeys != 0 {
		n, err := r.uint32("key count")
		if err != nil {
			return err
		}
		if int(n) > len(data) {
			// A count larger than the raw input is always malformed
			return fmt.Errorf("key count %d exceeds message size", n)
		}
		msg.Keys = make([][]byte, n)
		for i := range msg.Keys {
			if msg.Keys[i], err = r.bytes("key list entry"); err != nil {
				return err
			}
		}
	}

	if flags&hasKey != 0 {
		raw, err := r.bytes("key")
		if err != nil {
			return err
		}
		msg.Key = raw
	}

	if flags&hasValue != 0 {
		raw, err := r.bytes("value")
		if err != nil {
			return err
		}
		msg.Value = raw
	}

	if flags&hasFound != 0 {
		v, err := r.byte("found flag")
		if err != nil {
			return err
		}
		msg.Found = v != 0
	}

	if flags&hasErr != 0 {
		raw, err := r.bytes("error")
		if err != nil {
			return err
		}
		msg.Err = string(raw)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// appendBytes appends a big-endian uint32 length prefix followed by the
// raw bytes.
func appendBytes(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// sizeBytes calculates the total size needed for serialization
func (b *binarySerializerImpl) sizeBytes(msg *proto.Message) int {
	// 1 byte for MsgType + 2 bytes for flags
	size := 3

	if msg.Name != "" {
		size += 4 + len(msg.Name)
	}
	if len(msg.ProtocolVersions) > 0 {
		size += 2 + 2*len(msg.ProtocolVersions)
	}
	if len(msg.Domains) > 0 {
		size += 2
		for _, d := range msg.Domains {
			size += 4 + len(d)
		}
	}
	if msg.Nonce != nil {
		size += 4 + len(msg.Nonce)
	}
	if msg.Domain != "" {
		size += 4 + len(msg.Domain)
	}
	if msg.RangeStart != nil {
		size += 4 + len(msg.RangeStart)
	}
	if msg.RangeEnd != nil {
		size += 4 + len(msg.RangeEnd)
	}
	if msg.Watermark != 0 {
		size += 8
	}
	if msg.Count != 0 {
		size += 8
	}
	if msg.Keys != nil {
		size += 4
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Key != nil {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Found {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}

// reader is a bounds-checked cursor over the raw message bytes.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte(what string) (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", what)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint16(what string) (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", what)
	}
	v := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) uint32(what string) (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", what)
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) uint64(what string) (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", what)
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// bytes reads a uint32 length prefix and returns a copy of that many
// bytes.
func (r *reader) bytes(what string) ([]byte, error) {
	n, err := r.uint32(what + " length")
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("data too short for %s", what)
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}
