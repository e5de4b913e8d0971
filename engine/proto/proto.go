package proto

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Protocol Version
// --------------------------------------------------------------------------

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion uint16 = 1

// SupportedVersions lists all protocol versions this build can speak,
// in ascending order.
var SupportedVersions = []uint16{ProtocolVersion}

// NegotiateVersion returns the highest protocol version present in both
// lists. The boolean return value indicates whether any common version
// exists.
func NegotiateVersion(local, remote []uint16) (uint16, bool) {
	var (
		best  uint16
		found bool
	)
	for _, l := range local {
		for _, r := range remote {
			if l == r && (!found || l > best) {
				best = l
				found = true
			}
		}
	}
	return best, found
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single protocol message. Which fields are used
// depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Handshake fields (Hello)
	Name             string   `json:"name,omitempty"`              // Declared node name, empty = anonymous
	ProtocolVersions []uint16 `json:"protocol_versions,omitempty"` // All versions the sender can speak
	Domains          []string `json:"domains,omitempty"`           // Domains the sender offers
	Nonce            []byte   `json:"nonce,omitempty"`             // Random handshake nonce

	// Range query fields (RangeCount, KeyList and their responses)
	Domain     string   `json:"domain,omitempty"`
	RangeStart []byte   `json:"range_start,omitempty"`
	RangeEnd   []byte   `json:"range_end,omitempty"`
	Watermark  int64    `json:"watermark,omitempty"`
	Count      uint64   `json:"count,omitempty"`
	Keys       [][]byte `json:"keys,omitempty"`

	// Record fields (RecordRequest, RecordResp, RecordPush)
	Key   []byte `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found,omitempty"`

	// Error field, used by MsgTError as a terminal notice before close
	Err string `json:"err,omitempty"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewHello creates the handshake message. Both sides of a connection send
// one Hello as their first message.
func NewHello(name string, domains []string, nonce []byte) *Message {
	return &Message{
		MsgType:          MsgTHello,
		Name:             name,
		ProtocolVersions: SupportedVersions,
		Domains:          domains,
		Nonce:            nonce,
	}
}

// NewPing creates a liveness probe.
func NewPing() *Message {
	return &Message{MsgType: MsgTPing}
}

// NewPong creates the answer to a liveness probe.
func NewPong() *Message {
	return &Message{MsgType: MsgTPong}
}

// NewRangeCount creates a request for the number of keys the remote
// holds in the inclusive range [start, end] as of the given watermark.
func NewRangeCount(domain string, start, end []byte, watermark int64) *Message {
	return &Message{
		MsgType:    MsgTRangeCount,
		Domain:     domain,
		RangeStart: start,
		RangeEnd:   end,
		Watermark:  watermark,
	}
}

// NewRangeCountResp creates the response to a RangeCount request. The
// watermark is echoed back clamped to the responder's own clock so both
// sides continue with the smaller of the two.
func NewRangeCountResp(req *Message, count uint64, watermark int64) *Message {
	return &Message{
		MsgType:    MsgTRangeCountResp,
		Domain:     req.Domain,
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		Watermark:  watermark,
		Count:      count,
	}
}

// NewKeyList creates a request for the literal sorted key list of the
// inclusive range [start, end] as of the given watermark.
func NewKeyList(domain string, start, end []byte, watermark int64) *Message {
	return &Message{
		MsgType:    MsgTKeyList,
		Domain:     domain,
		RangeStart: start,
		RangeEnd:   end,
		Watermark:  watermark,
	}
}

// NewKeyListResp creates the response to a KeyList request.
func NewKeyListResp(req *Message, keys [][]byte, watermark int64) *Message {
	return &Message{
		MsgType:    MsgTKeyListResp,
		Domain:     req.Domain,
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		Watermark:  watermark,
		Keys:       keys,
	}
}

// NewRecordRequest creates a request for the full record of one key.
func NewRecordRequest(domain string, key []byte) *Message {
	return &Message{
		MsgType: MsgTRecordRequest,
		Domain:  domain,
		Key:     key,
	}
}

// NewRecordResp creates the response to a RecordRequest.
func NewRecordResp(req *Message, value []byte, found bool) *Message {
	return &Message{
		MsgType: MsgTRecordResp,
		Domain:  req.Domain,
		Key:     req.Key,
		Value:   value,
		Found:   found,
	}
}

// NewRecordPush creates an unsolicited record transfer, sent when the
// sender already knows the receiver lacks the record.
func NewRecordPush(domain string, key, value []byte) *Message {
	return &Message{
		MsgType: MsgTRecordPush,
		Domain:  domain,
		Key:     key,
		Value:   value,
	}
}

// NewError creates a terminal error notice.
func NewError(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of a protocol message.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTHello:
		return "hello"
	case MsgTPing:
		return "ping"
	case MsgTPong:
		return "pong"
	case MsgTRangeCount:
		return "rangeCount"
	case MsgTRangeCountResp:
		return "rangeCountResp"
	case MsgTKeyList:
		return "keyList"
	case MsgTKeyListResp:
		return "keyListResp"
	case MsgTRecordRequest:
		return "recordRequest"
	case MsgTRecordResp:
		return "recordResp"
	case MsgTRecordPush:
		return "recordPush"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// IsResponse reports whether the message type answers a reconciler
// request (as opposed to being a request or a standalone notice).
func (t MessageType) IsResponse() bool {
	switch t {
	case MsgTRangeCountResp, MsgTKeyListResp, MsgTRecordResp:
		return true
	default:
		return false
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "hello":
		*t = MsgTHello
	case "ping":
		*t = MsgTPing
	case "pong":
		*t = MsgTPong
	case "rangeCount":
		*t = MsgTRangeCount
	case "rangeCountResp":
		*t = MsgTRangeCountResp
	case "keyList":
		*t = MsgTKeyList
	case "keyListResp":
		*t = MsgTKeyListResp
	case "recordRequest":
		*t = MsgTRecordRequest
	case "recordResp":
		*t = MsgTRecordResp
	case "recordPush":
		*t = MsgTRecordPush
	case "error":
		*t = MsgTError
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTError               // Terminal error notice before close

	// Session message types

	MsgTHello // Handshake: name, versions, domains, nonce
	MsgTPing  // Liveness probe
	MsgTPong  // Liveness answer

	// Reconciliation message types (domain-scoped)

	MsgTRangeCount     // Request the key count of a range
	MsgTRangeCountResp // Count + clamped watermark
	MsgTKeyList        // Request the literal key list of a range
	MsgTKeyListResp    // Sorted keys of the range
	MsgTRecordRequest  // Request one record by key
	MsgTRecordResp     // Record value or not-found
	MsgTRecordPush     // Unsolicited record transfer
)
