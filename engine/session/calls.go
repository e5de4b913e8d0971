package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dSync/engine/proto"
	"github.com/ValentinKolb/dSync/lib/store"
)

// RemoteError is a failure the peer reported while serving a request
// (e.g. its store failed). It affects only the current range comparison,
// not the session.
type RemoteError struct {
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote store error: %s", e.Detail)
}

// --------------------------------------------------------------------------
// Reconciler Call API
// --------------------------------------------------------------------------

// Within one (session, domain) pair requests are strictly ordered: a
// single call may be in flight per domain, so a response can never be
// misattributed to the wrong range. Concurrency across domains and
// sessions is unconstrained.

// RangeCount asks the peer how many keys it holds in [start, end] as of
// the given watermark. The returned watermark is the peer's clamped
// value; the caller must continue with it.
func (s *Session) RangeCount(domain string, start, end []byte, watermark store.Watermark) (uint64, store.Watermark, error) {
	resp, err := s.call(domain, proto.NewRangeCount(domain, start, end, int64(watermark)), proto.MsgTRangeCountResp)
	if err != nil {
		return 0, 0, err
	}
	return resp.Count, store.Watermark(resp.Watermark), nil
}

// KeyList asks the peer for the literal sorted key list of [start, end]
// as of the given watermark. A key of the wrong length in the response
// is a protocol violation and terminates the session.
func (s *Session) KeyList(domain string, start, end []byte, watermark store.Watermark) ([][]byte, store.Watermark, error) {
	resp, err := s.call(domain, proto.NewKeyList(domain, start, end, int64(watermark)), proto.MsgTKeyListResp)
	if err != nil {
		return nil, 0, err
	}
	if st, ok := s.stores[domain]; ok {
		for _, key := range resp.Keys {
			if len(key) != st.KeySize() {
				s.closeProtocolViolation(fmt.Sprintf("key of length %d in key list (expected %d)", len(key), st.KeySize()))
				return nil, 0, ErrClosed
			}
		}
	}
	return resp.Keys, store.Watermark(resp.Watermark), nil
}

// RequestRecord fetches one record from the peer. An oversized value in
// the response is a protocol violation and terminates the session.
func (s *Session) RequestRecord(domain string, key []byte, maxValueSize int) ([]byte, bool, error) {
	resp, err := s.call(domain, proto.NewRecordRequest(domain, key), proto.MsgTRecordResp)
	if err != nil {
		return nil, false, err
	}
	if len(resp.Value) > maxValueSize {
		s.closeProtocolViolation(fmt.Sprintf("oversized value of %d bytes (limit %d)", len(resp.Value), maxValueSize))
		return nil, false, ErrClosed
	}
	return resp.Value, resp.Found, nil
}

// PushRecord sends a record the peer is known to lack. Fire-and-forget:
// the peer applies it without acknowledgement.
func (s *Session) PushRecord(domain string, key, value []byte) error {
	if s.IsClosed() {
		return ErrClosed
	}
	if err := s.send(proto.NewRecordPush(domain, key, value)); err != nil {
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call sends a request and waits for the matching response on the
// request's domain. A response timeout forces the session to close
// rather than retrying indefinitely.
func (s *Session) call(domain string, req *proto.Message, want proto.MessageType) (*proto.Message, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}

	waiter := make(chan *proto.Message, 1)
	if _, loaded := s.pending.LoadOrStore(domain, waiter); loaded {
		// Guarded by the one-cursor-per-(peer, domain) invariant; hitting
		// this is a bug in the scheduler
		return nil, fmt.Errorf("request already in flight for domain %q", domain)
	}
	defer s.pending.Delete(domain)

	if err := s.send(req); err != nil {
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if s.cfg.RequestTimeout > 0 {
		timer := time.NewTimer(s.cfg.RequestTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-waiter:
		if resp.MsgType != want {
			s.closeProtocolViolation(fmt.Sprintf("expected %s, got %s", want, resp.MsgType))
			return nil, ErrClosed
		}
		if resp.Err != "" {
			return nil, &RemoteError{Detail: resp.Err}
		}
		return resp, nil
	case <-s.closed:
		return nil, ErrClosed
	case <-timeoutCh:
		s.Close(ReasonTimeout)
		return nil, errors.New("request timed out")
	}
}
