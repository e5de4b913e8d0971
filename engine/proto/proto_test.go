package proto

import (
	"encoding/json"
	"testing"
)

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name          string
		local, remote []uint16
		want          uint16
		ok            bool
	}{
		{"identical", []uint16{1}, []uint16{1}, 1, true},
		{"highest common wins", []uint16{1, 2, 3}, []uint16{2, 3, 4}, 3, true},
		{"order does not matter", []uint16{3, 1, 2}, []uint16{2, 4, 3}, 3, true},
		{"no overlap", []uint16{1, 2}, []uint16{3, 4}, 0, false},
		{"remote empty", []uint16{1}, nil, 0, false},
		{"both empty", nil, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NegotiateVersion(tt.local, tt.remote)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NegotiateVersion(%v, %v) = (%d, %t), want (%d, %t)",
					tt.local, tt.remote, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMessageTypeStringRoundTrip(t *testing.T) {
	for msgType := MsgTError; msgType <= MsgTRecordPush; msgType++ {
		raw, err := json.Marshal(msgType)
		if err != nil {
			t.Fatalf("failed to marshal %d: %v", msgType, err)
		}

		var back MessageType
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("failed to unmarshal %s: %v", raw, err)
		}
		if back != msgType {
			t.Errorf("%s round-tripped to %s", msgType, back)
		}
	}

	var unknown MessageType
	if err := json.Unmarshal([]byte(`"nonsense"`), &unknown); err == nil {
		t.Error("expected an error for an unknown type name")
	}
}

func TestIsResponse(t *testing.T) {
	responses := map[MessageType]bool{
		MsgTRangeCountResp: true,
		MsgTKeyListResp:    true,
		MsgTRecordResp:     true,
		MsgTRangeCount:     false,
		MsgTKeyList:        false,
		MsgTRecordRequest:  false,
		MsgTRecordPush:     false,
		MsgTHello:          false,
		MsgTPing:           false,
		MsgTError:          false,
	}
	for msgType, want := range responses {
		if got := msgType.IsResponse(); got != want {
			t.Errorf("%s.IsResponse() = %t, want %t", msgType, got, want)
		}
	}
}

func TestHelloCarriesSupportedVersions(t *testing.T) {
	hello := NewHello("node", []string{"a"}, make([]byte, 16))
	if len(hello.ProtocolVersions) == 0 {
		t.Fatal("hello must advertise at least one version")
	}
	if hello.ProtocolVersions[len(hello.ProtocolVersions)-1] != ProtocolVersion {
		t.Error("the current version must be advertised")
	}
}
