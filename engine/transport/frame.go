package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// All protocol messages are length-framed:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
//
// A frame that exceeds the configured maximum is a framing violation and
// terminates the session; the limit bounds memory per connection.

// WriteFrame writes one length-prefixed frame to the connection.
func WriteFrame(conn net.Conn, payload []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	b := net.Buffers{header, payload}
	_, err := b.WriteTo(conn)
	return err
}

// ReadFrame reads one length-prefixed frame from the reader. Frames
// larger than maxFrame are rejected without reading the payload.
func ReadFrame(r io.Reader, maxFrame int) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if int(length) > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, maxFrame)
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
