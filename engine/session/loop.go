package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ValentinKolb/dSync/engine/proto"
	"github.com/ValentinKolb/dSync/lib/store"
)

// --------------------------------------------------------------------------
// Read Loop
// --------------------------------------------------------------------------

// readLoop reads and dispatches frames until the session dies. Incoming
// requests are served synchronously: a slow local store naturally
// throttles how fast this session accepts more protocol requests.
func (s *Session) readLoop() {
	for {
		msg, err := s.receive()
		if err != nil {
			if s.IsClosed() {
				return
			}
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				s.Close(ReasonTimeout)
			case errors.Is(err, io.EOF):
				s.Close("closed by peer")
			default:
				s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
			}
			return
		}

		s.dispatch(msg)

		if s.IsClosed() {
			return
		}
	}
}

// dispatch routes one inbound message. Responses go to the reconciler
// waiting on the message's domain; requests are answered from the local
// store.
func (s *Session) dispatch(msg *proto.Message) {
	switch msg.MsgType {
	case proto.MsgTPing:
		if err := s.send(proto.NewPong()); err != nil {
			s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
		}

	case proto.MsgTPong:
		// Traffic already recorded by receive

	case proto.MsgTRangeCount:
		s.serveRangeCount(msg)

	case proto.MsgTKeyList:
		s.serveKeyList(msg)

	case proto.MsgTRecordRequest:
		s.serveRecordRequest(msg)

	case proto.MsgTRecordPush:
		s.applyRecordPush(msg)

	case proto.MsgTRangeCountResp, proto.MsgTKeyListResp, proto.MsgTRecordResp:
		if waiter, ok := s.pending.Load(msg.Domain); ok {
			select {
			case waiter <- msg:
			default:
				// The waiter already gave up (timeout); drop the response
			}
		} else {
			Logger.Warningf("unsolicited %s for domain %q from %s", msg.MsgType, msg.Domain, s.desc.Address())
		}

	case proto.MsgTError:
		s.Close(fmt.Sprintf("remote error: %s", msg.Err))

	case proto.MsgTHello:
		s.closeProtocolViolation("unexpected hello after handshake")

	default:
		s.closeProtocolViolation(fmt.Sprintf("unknown message type %d", uint8(msg.MsgType)))
	}
}

// --------------------------------------------------------------------------
// Liveness Loop
// --------------------------------------------------------------------------

// livenessLoop sends periodic pings and enforces the idle timeout.
func (s *Session) livenessLoop() {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastTraffic.Load()))
			if s.cfg.IdleTimeout > 0 && idle > s.cfg.IdleTimeout {
				s.Close(ReasonTimeout)
				return
			}
			if err := s.send(proto.NewPing()); err != nil {
				s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
				return
			}
		}
	}
}

// --------------------------------------------------------------------------
// Request Serving
// --------------------------------------------------------------------------

// domainStore resolves the store for a domain-scoped request. A request
// for a domain that was never negotiated is a protocol violation.
func (s *Session) domainStore(msg *proto.Message) (store.IDataStore, bool) {
	st, ok := s.stores[msg.Domain]
	if !ok {
		s.closeProtocolViolation(fmt.Sprintf("request for unknown domain %q", msg.Domain))
		return nil, false
	}
	return st, true
}

// validRangeRequest checks the fixed key length of both range bounds.
// Malformed bounds are protocol violations, not store errors.
func (s *Session) validRangeRequest(st store.IDataStore, msg *proto.Message) bool {
	if len(msg.RangeStart) != st.KeySize() || len(msg.RangeEnd) != st.KeySize() {
		s.closeProtocolViolation(fmt.Sprintf("range bounds of length %d/%d, expected %d",
			len(msg.RangeStart), len(msg.RangeEnd), st.KeySize()))
		return false
	}
	return true
}

// serveRangeCount answers a count digest request. The requested
// watermark is clamped to the local clock and echoed back so both sides
// continue with the smaller of the two.
func (s *Session) serveRangeCount(msg *proto.Message) {
	st, ok := s.domainStore(msg)
	if !ok || !s.validRangeRequest(st, msg) {
		return
	}

	w := store.Watermark(msg.Watermark).Min(st.Clock())
	resp := proto.NewRangeCountResp(msg, 0, int64(w))
	if count, err := st.Count(w, msg.RangeStart, msg.RangeEnd); err != nil {
		resp.Err = err.Error()
	} else {
		resp.Count = count
	}

	if err := s.send(resp); err != nil {
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
	}
}

// serveKeyList answers an exact key list request for a small range.
func (s *Session) serveKeyList(msg *proto.Message) {
	st, ok := s.domainStore(msg)
	if !ok || !s.validRangeRequest(st, msg) {
		return
	}

	w := store.Watermark(msg.Watermark).Min(st.Clock())
	var keys [][]byte
	err := st.ForEach(w, msg.RangeStart, msg.RangeEnd, func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})

	resp := proto.NewKeyListResp(msg, keys, int64(w))
	if err != nil {
		resp.Keys = nil
		resp.Err = err.Error()
	}

	if err := s.send(resp); err != nil {
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
	}
}

// serveRecordRequest answers a point record request.
func (s *Session) serveRecordRequest(msg *proto.Message) {
	st, ok := s.domainStore(msg)
	if !ok {
		return
	}
	if len(msg.Key) != st.KeySize() {
		s.closeProtocolViolation(fmt.Sprintf("key of length %d, expected %d", len(msg.Key), st.KeySize()))
		return
	}

	value, found, err := st.Load(st.Clock(), msg.Key)
	resp := proto.NewRecordResp(msg, value, found)
	if err != nil {
		resp.Value = nil
		resp.Found = false
		resp.Err = err.Error()
	}

	if err := s.send(resp); err != nil {
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
	}
}

// applyRecordPush stores an unsolicited record. An oversized value or a
// malformed key is a protocol violation that terminates the session
// without mutating the store.
func (s *Session) applyRecordPush(msg *proto.Message) {
	st, ok := s.domainStore(msg)
	if !ok {
		return
	}
	if len(msg.Key) != st.KeySize() {
		s.closeProtocolViolation(fmt.Sprintf("key of length %d, expected %d", len(msg.Key), st.KeySize()))
		return
	}
	if len(msg.Value) > st.MaxValueSize() {
		s.closeProtocolViolation(fmt.Sprintf("oversized value of %d bytes (limit %d)", len(msg.Value), st.MaxValueSize()))
		return
	}

	result, err := st.Store(msg.Key, msg.Value)
	if err != nil {
		// Local store failure, not the peer's fault: log and move on, the
		// next reconciliation pass will retry the range
		Logger.Errorf("failed to apply pushed record in domain %q: %v", msg.Domain, err)
		return
	}
	switch result {
	case store.StoreResultStored:
		recordsApplied.Inc()
	case store.StoreResultDuplicate:
		recordsDuplicate.Inc()
	}
}
