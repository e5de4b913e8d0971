package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dSync/engine/proto"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IMessageSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates one message of every protocol exchange
func testMessages() []*proto.Message {
	rangeCount := proto.NewRangeCount("events", []byte{0x00, 0x00}, []byte{0xff, 0xff}, 1700000000123)
	keyList := proto.NewKeyList("events", []byte{0x00, 0x00}, []byte{0x7f, 0xff}, 1700000000123)
	recordReq := proto.NewRecordRequest("events", []byte("0123456789abcdef"))

	return []*proto.Message{
		proto.NewHello("node-a", []string{"events", "users"}, []byte("0123456789abcdef")),
		proto.NewHello("", nil, []byte("0123456789abcdef")), // anonymous, no domains
		proto.NewPing(),
		proto.NewPong(),
		rangeCount,
		proto.NewRangeCountResp(rangeCount, 4096, 1699999999999),
		keyList,
		proto.NewKeyListResp(keyList, [][]byte{[]byte("key-one"), []byte("key-two")}, 1699999999999),
		recordReq,
		proto.NewRecordResp(recordReq, []byte("value bytes"), true),
		proto.NewRecordResp(recordReq, nil, false), // not found
		proto.NewRecordPush("events", []byte("0123456789abcdef"), []byte("pushed value")),
		proto.NewError("protocol violation: oversized value"),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d (%s): %v", i, msg.MsgType, err)
					continue
				}

				// Deserialize
				var result proto.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d (%s): %v", i, msg.MsgType, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(*msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, *msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test MsgTUnknown since that is never sent)
			for msgType := proto.MsgTError; msgType <= proto.MsgTRecordPush; msgType++ {
				msg := &proto.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result proto.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerZeroValues tests edge cases around absent fields
func TestBinarySerializerZeroValues(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  *proto.Message
	}{
		{
			name: "Empty message",
			msg:  &proto.Message{},
		},
		{
			name: "Zero watermark and count stay absent",
			msg: &proto.Message{
				MsgType:   proto.MsgTRangeCountResp,
				Domain:    "events",
				Watermark: 0,
				Count:     0,
			},
		},
		{
			name: "Found without value",
			msg: &proto.Message{
				MsgType: proto.MsgTRecordResp,
				Domain:  "events",
				Key:     []byte("k"),
				Found:   true,
			},
		},
		{
			name: "Empty but non-nil key list",
			msg: &proto.Message{
				MsgType: proto.MsgTKeyListResp,
				Domain:  "events",
				Keys:    [][]byte{},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result proto.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if result.MsgType != tc.msg.MsgType {
				t.Errorf("MsgType mismatch: expected %v, got %v", tc.msg.MsgType, result.MsgType)
			}
			if result.Domain != tc.msg.Domain {
				t.Errorf("Domain mismatch: expected %q, got %q", tc.msg.Domain, result.Domain)
			}
			if result.Watermark != tc.msg.Watermark {
				t.Errorf("Watermark mismatch: expected %d, got %d", tc.msg.Watermark, result.Watermark)
			}
			if result.Count != tc.msg.Count {
				t.Errorf("Count mismatch: expected %d, got %d", tc.msg.Count, result.Count)
			}
			if result.Found != tc.msg.Found {
				t.Errorf("Found mismatch: expected %v, got %v", tc.msg.Found, result.Found)
			}
			if len(result.Keys) != len(tc.msg.Keys) {
				t.Errorf("Keys length mismatch: expected %d, got %d", len(tc.msg.Keys), len(result.Keys))
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{byte(proto.MsgTPing), 0}, // type plus one flag byte only
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{byte(proto.MsgTPing), 0, 0},
			expectError: false,
		},
		{
			name: "Truncated name",
			// hasName flag set, claims 5 name bytes but only 3 provided
			data:        []byte{byte(proto.MsgTHello), 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'},
			expectError: true,
		},
		{
			name: "Key count beyond message size",
			// hasKeys flag (bit 9 -> 0x02 in the high flag byte), claims 2^31 keys
			data:        []byte{byte(proto.MsgTKeyListResp), 0x02, 0, 0x80, 0, 0, 0},
			expectError: true,
		},
		{
			name: "Truncated watermark",
			// hasWatermark flag (bit 7 -> 0x80 in the low flag byte), only 4 of 8 bytes
			data:        []byte{byte(proto.MsgTRangeCountResp), 0, 0x80, 0, 0, 0, 1},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg proto.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
