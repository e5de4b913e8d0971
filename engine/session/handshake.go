package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/ValentinKolb/dSync/engine/proto"
)

const nonceSize = 16

// Handshake runs the hello exchange: both sides send their Hello first,
// then read the remote one. The session becomes established only if a
// mutually supported protocol version exists; otherwise it is closed
// with a version-mismatch reason and an error is returned.
//
// On success the descriptor is marked established and the host policy's
// connect callback fires exactly once.
func (s *Session) Handshake() error {
	if s.cfg.HandshakeTimeout > 0 {
		deadline := time.Now().Add(s.cfg.HandshakeTimeout)
		if err := s.conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	nonce := make([]byte, nonceSize)
	s.hostPolicy.GetSecureRandom(nonce)

	hello := proto.NewHello(s.hostPolicy.Name(), s.localDomains(), nonce)
	if err := s.send(hello); err != nil {
		handshakeFailures.Inc()
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
		return err
	}

	remote, err := s.receive()
	if err != nil {
		handshakeFailures.Inc()
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
		return err
	}
	if remote.MsgType != proto.MsgTHello {
		handshakeFailures.Inc()
		s.closeProtocolViolation(fmt.Sprintf("expected hello, got %s", remote.MsgType))
		return fmt.Errorf("expected hello, got %s", remote.MsgType)
	}

	version, ok := proto.NegotiateVersion(proto.SupportedVersions, remote.ProtocolVersions)
	if !ok {
		handshakeFailures.Inc()
		_ = s.send(proto.NewError(ReasonVersionMismatch))
		s.Close(fmt.Sprintf("%s (local %v, remote %v)", ReasonVersionMismatch, proto.SupportedVersions, remote.ProtocolVersions))
		return ErrVersionMismatch
	}

	s.remoteName = remote.Name
	s.sharedDomains = intersectDomains(s.localDomains(), remote.Domains)

	// Handshake done, hand deadline control to the read/liveness loops
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		s.Close(fmt.Sprintf("%s: %v", ReasonTransportError, err))
		return err
	}

	s.table.MarkEstablished(s.desc, remote.Name, version)
	sessionsEstablished.Inc()
	Logger.Infof("session with %s established (name=%q, protocol v%d, domains %v)",
		s.desc.Address(), remote.Name, version, s.sharedDomains)
	s.hostPolicy.OnConnect(s.desc.Info())
	return nil
}

// localDomains lists the domains this node offers, sorted for a stable
// wire representation.
func (s *Session) localDomains() []string {
	domains := make([]string, 0, len(s.stores))
	for d := range s.stores {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// intersectDomains returns the domains present in both lists, preserving
// the order of the first.
func intersectDomains(local, remote []string) []string {
	remoteSet := make(map[string]struct{}, len(remote))
	for _, d := range remote {
		remoteSet[d] = struct{}{}
	}
	shared := make([]string, 0, len(local))
	for _, d := range local {
		if _, ok := remoteSet[d]; ok {
			shared = append(shared, d)
		}
	}
	return shared
}
