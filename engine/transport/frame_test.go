package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// pipeConns returns two connected in-memory endpoints.
func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestFrameRoundTrip(t *testing.T) {
	a, b := pipeConns(t)

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xab}, 64*1024),
	}

	go func() {
		for _, p := range payloads {
			if err := WriteFrame(a, p); err != nil {
				t.Errorf("write failed: %v", err)
				return
			}
		}
	}()

	for i, want := range payloads {
		got, err := ReadFrame(b, 1024*1024)
		if err != nil {
			t.Fatalf("read of frame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	// Header alone is enough to reject, the payload must never be read
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 1024)

	r := bytes.NewReader(header)
	if _, err := ReadFrame(r, 512); err == nil {
		t.Fatal("expected an error for a frame above the limit")
	}
	if r.Len() != 0 {
		// Only the header may have been consumed; nothing was appended,
		// so the reader must be fully drained
		t.Errorf("expected only the header to be consumed")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 100)
	buf.Write(header)
	buf.Write([]byte("only a few bytes"))

	if _, err := ReadFrame(&buf, 1024); err == nil {
		t.Fatal("expected an error for a truncated payload")
	}
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 1024); err == nil {
		t.Fatal("expected an error for a truncated header")
	}
	if _, err := ReadFrame(bytes.NewReader(nil), 1024); err != io.EOF {
		t.Fatal("expected io.EOF on a cleanly closed stream")
	}
}

func TestFrameSequenceOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	const frames = 100

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload := bytes.Repeat([]byte{0x42}, 1000)
		for i := 0; i < frames; i++ {
			if err := WriteFrame(conn, payload); err != nil {
				return
			}
		}
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < frames; i++ {
		payload, err := ReadFrame(conn, 4096)
		if err != nil {
			t.Fatalf("read of frame %d failed: %v", i, err)
		}
		if len(payload) != 1000 {
			t.Fatalf("frame %d: got %d bytes, want 1000", i, len(payload))
		}
	}
}
