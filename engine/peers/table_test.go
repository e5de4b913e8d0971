package peers

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOutboundDedup(t *testing.T) {
	table := NewTable(16)

	d, err := table.BeginOutbound("10.0.0.1:9420")
	if err != nil {
		t.Fatalf("first attempt must be admitted: %v", err)
	}
	if d.State() != StateConnecting {
		t.Errorf("expected Connecting, got %s", d.State())
	}

	if _, err := table.BeginOutbound("10.0.0.1:9420"); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}

	// A different address is unaffected
	if _, err := table.BeginOutbound("10.0.0.2:9420"); err != nil {
		t.Errorf("independent address must be admitted: %v", err)
	}
}

func TestFailedAttemptBacksOff(t *testing.T) {
	table := NewTable(16)
	addr := "10.0.0.1:9420"

	d, err := table.BeginOutbound(addr)
	if err != nil {
		t.Fatal(err)
	}
	table.MarkClosed(d)

	// Within the backoff window the address must be blocked
	if table.WantsOutbound(addr) {
		t.Error("address must back off right after a failed attempt")
	}
	if _, err := table.BeginOutbound(addr); !errors.Is(err, ErrBackoff) {
		t.Errorf("expected ErrBackoff, got %v", err)
	}

	// First failure backs off 50ms +-10%
	time.Sleep(80 * time.Millisecond)
	if !table.WantsOutbound(addr) {
		t.Error("backoff must have expired")
	}
	if _, err := table.BeginOutbound(addr); err != nil {
		t.Errorf("retry after backoff must be admitted: %v", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	table := NewTable(16)
	addr := "10.0.0.1:9420"

	d, err := table.BeginOutbound(addr)
	if err != nil {
		t.Fatal(err)
	}
	table.MarkClosed(d)

	// Simulate repeated failures without waiting out the real windows
	for i := 0; i < 20; i++ {
		d.mu.Lock()
		d.state = StateConnecting
		d.mu.Unlock()
		table.MarkClosed(d)
	}

	d.mu.Lock()
	failures := d.failures
	window := time.Until(d.nextAttempt)
	d.mu.Unlock()

	if failures != 21 {
		t.Errorf("expected 21 recorded failures, got %d", failures)
	}
	// The window must have reached the cap (30s +-10% jitter)
	if window < 25*time.Second || window > 34*time.Second {
		t.Errorf("expected a capped backoff window around 30s, got %s", window)
	}
}

func TestEstablishedClearsBackoff(t *testing.T) {
	table := NewTable(16)
	addr := "10.0.0.1:9420"

	d, err := table.BeginOutbound(addr)
	if err != nil {
		t.Fatal(err)
	}
	table.MarkHandshaking(d)
	table.MarkEstablished(d, "node-b", 1)

	d.mu.Lock()
	d.failures = 5 // pretend a rough history
	d.mu.Unlock()
	table.MarkEstablished(d, "node-b", 1)

	table.MarkClosing(d)
	table.MarkClosed(d)

	// An established session's close is not a failed attempt
	if !table.WantsOutbound(addr) {
		t.Error("no backoff after an established session ends")
	}
}

func TestInboundLimit(t *testing.T) {
	table := NewTable(2)

	var descs []*Descriptor
	for i := 0; i < 2; i++ {
		d, err := table.AcceptInbound(fmt.Sprintf("10.0.0.%d:50000", i+1))
		if err != nil {
			t.Fatalf("inbound %d must be admitted: %v", i, err)
		}
		descs = append(descs, d)
	}

	if _, err := table.AcceptInbound("10.0.0.9:50000"); !errors.Is(err, ErrInboundLimitReached) {
		t.Fatalf("expected ErrInboundLimitReached, got %v", err)
	}

	// Closing a session frees its slot
	table.MarkClosed(descs[0])
	if _, err := table.AcceptInbound("10.0.0.9:50000"); err != nil {
		t.Errorf("slot must be free after close: %v", err)
	}
}

func TestInboundDedup(t *testing.T) {
	table := NewTable(16)
	addr := "10.0.0.1:50000"

	d, err := table.AcceptInbound(addr)
	if err != nil {
		t.Fatal(err)
	}
	if d.State() != StateHandshaking {
		t.Errorf("expected Handshaking, got %s", d.State())
	}

	if _, err := table.AcceptInbound(addr); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}

	// The refused duplicate must not leak an inbound slot
	table.MarkClosed(d)
	for i := 0; i < 16; i++ {
		d2, err := table.AcceptInbound(fmt.Sprintf("10.0.1.%d:50000", i))
		if err != nil {
			t.Fatalf("slot accounting leaked: %v", err)
		}
		table.MarkClosed(d2)
	}
}

func TestCrossDirectionDedup(t *testing.T) {
	table := NewTable(16)
	addr := "10.0.0.1:9420"

	if _, err := table.AcceptInbound(addr); err != nil {
		t.Fatal(err)
	}

	// A live inbound session blocks outbound attempts to the same address
	if _, err := table.BeginOutbound(addr); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
	if table.WantsOutbound(addr) {
		t.Error("no outbound wanted while an inbound session is live")
	}
}

func TestEstablishedCount(t *testing.T) {
	table := NewTable(16)

	d1, _ := table.BeginOutbound("10.0.0.1:9420")
	d2, _ := table.BeginOutbound("10.0.0.2:9420")
	table.MarkEstablished(d1, "a", 1)

	if got := table.EstablishedCount(); got != 1 {
		t.Errorf("expected 1 established session, got %d", got)
	}

	table.MarkEstablished(d2, "b", 1)
	table.MarkClosed(d1)

	if got := table.EstablishedCount(); got != 1 {
		t.Errorf("expected 1 established session after close, got %d", got)
	}
}

func TestDescriptorInfo(t *testing.T) {
	table := NewTable(16)

	d, _ := table.BeginOutbound("10.0.0.1:9420")
	info := d.Info()
	if info.Established || info.Inbound || info.Address != "10.0.0.1:9420" {
		t.Errorf("unexpected pre-handshake info: %+v", info)
	}

	table.MarkHandshaking(d)
	table.MarkEstablished(d, "node-b", 1)
	info = d.Info()
	if !info.Established || info.Name != "node-b" || info.ProtocolVersion != 1 {
		t.Errorf("unexpected established info: %+v", info)
	}

	// The established flag is sticky so close callbacks can tell a
	// failed handshake from a real session ending
	table.MarkClosed(d)
	if !d.Info().Established {
		t.Error("info must still report the session as having been established")
	}
}
