package reconcile

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFullRange(t *testing.T) {
	r := FullRange(8)
	if len(r.Start) != 8 || len(r.End) != 8 {
		t.Fatalf("expected 8 byte bounds, got %d and %d", len(r.Start), len(r.End))
	}
	if !bytes.Equal(r.Start, make([]byte, 8)) {
		t.Errorf("start should be all zero, got %v", r.Start)
	}
	for _, b := range r.End {
		if b != 0xff {
			t.Fatalf("end should be all 0xff, got %v", r.End)
		}
	}
	if r.Unit() {
		t.Error("full range should not be a unit range")
	}
}

func TestMidpointVectors(t *testing.T) {
	tests := []struct {
		start, end, want []byte
	}{
		{[]byte{0x00}, []byte{0xff}, []byte{0x7f}},
		{[]byte{0x00, 0x00}, []byte{0xff, 0xff}, []byte{0x7f, 0xff}},
		{[]byte{0x10}, []byte{0x10}, []byte{0x10}},
		{[]byte{0x10}, []byte{0x11}, []byte{0x10}},
		{[]byte{0x00, 0xff}, []byte{0x01, 0x01}, []byte{0x01, 0x00}},
		{[]byte{0xfe}, []byte{0xff}, []byte{0xfe}},
	}

	for _, tt := range tests {
		got := Midpoint(tt.start, tt.end)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("Midpoint(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestMidpointBounds(t *testing.T) {
	// For any start < end the midpoint must satisfy start <= m < end,
	// otherwise splitting would not make progress
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a := make([]byte, 8)
		b := make([]byte, 8)
		rnd.Read(a)
		rnd.Read(b)
		if bytes.Compare(a, b) > 0 {
			a, b = b, a
		}
		if bytes.Equal(a, b) {
			continue
		}

		m := Midpoint(a, b)
		if bytes.Compare(a, m) > 0 {
			t.Fatalf("midpoint %v below start %v", m, a)
		}
		if bytes.Compare(m, b) >= 0 {
			t.Fatalf("midpoint %v not below end %v", m, b)
		}
	}
}

func TestNextKey(t *testing.T) {
	next, overflow := NextKey([]byte{0x00, 0xff})
	if overflow || !bytes.Equal(next, []byte{0x01, 0x00}) {
		t.Errorf("expected {0x01, 0x00}, got %v (overflow=%t)", next, overflow)
	}

	next, overflow = NextKey([]byte{0xff, 0xff})
	if !overflow {
		t.Errorf("expected overflow, got %v", next)
	}
}

func TestSplit(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		a := make([]byte, 8)
		b := make([]byte, 8)
		rnd.Read(a)
		rnd.Read(b)
		if bytes.Compare(a, b) > 0 {
			a, b = b, a
		}
		if bytes.Equal(a, b) {
			continue
		}
		r := KeyRange{Start: a, End: b}

		left, right := r.Split()

		// halves must be well-formed
		if bytes.Compare(left.Start, left.End) > 0 {
			t.Fatalf("left half %s inverted", left)
		}
		if bytes.Compare(right.Start, right.End) > 0 {
			t.Fatalf("right half %s inverted", right)
		}
		// contiguous and covering
		if !bytes.Equal(left.Start, r.Start) || !bytes.Equal(right.End, r.End) {
			t.Fatalf("halves %s / %s do not cover %s", left, right, r)
		}
		adjacent, overflow := NextKey(left.End)
		if overflow || !bytes.Equal(adjacent, right.Start) {
			t.Fatalf("halves %s / %s not adjacent", left, right)
		}
	}
}

func TestContains(t *testing.T) {
	r := KeyRange{Start: []byte{0x10}, End: []byte{0x20}}

	if !r.Contains([]byte{0x10}) || !r.Contains([]byte{0x20}) || !r.Contains([]byte{0x15}) {
		t.Error("range bounds are inclusive")
	}
	if r.Contains([]byte{0x0f}) || r.Contains([]byte{0x21}) {
		t.Error("keys outside the bounds must not be contained")
	}
}
