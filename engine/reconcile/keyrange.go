package reconcile

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// --------------------------------------------------------------------------
// Key Range
// --------------------------------------------------------------------------

// KeyRange is an inclusive range [Start, End] of fixed-length keys,
// ordered byte-wise.
type KeyRange struct {
	Start []byte
	End   []byte
}

// String renders the range with shortened hex bounds for logging.
func (r KeyRange) String() string {
	return fmt.Sprintf("[%s, %s]", shortHex(r.Start), shortHex(r.End))
}

// Contains reports whether the key lies inside the range.
func (r KeyRange) Contains(key []byte) bool {
	return bytes.Compare(r.Start, key) <= 0 && bytes.Compare(key, r.End) <= 0
}

// Unit reports whether the range holds exactly one possible key.
func (r KeyRange) Unit() bool {
	return bytes.Equal(r.Start, r.End)
}

// FullRange returns the range covering the entire key space of the given
// key length.
func FullRange(keySize int) KeyRange {
	start := make([]byte, keySize)
	end := make([]byte, keySize)
	for i := range end {
		end[i] = 0xff
	}
	return KeyRange{Start: start, End: end}
}

// --------------------------------------------------------------------------
// Key Arithmetic
// --------------------------------------------------------------------------

// Midpoint returns the arithmetic mean of two keys, rounded down. For
// start < end the result m satisfies start <= m < end, so splitting into
// [start, m] and [m+1, end] always shrinks both halves.
func Midpoint(start, end []byte) []byte {
	n := len(start)
	sum := make([]byte, n)

	// Byte-wise addition, most significant carry kept aside
	var carry uint16
	for i := n - 1; i >= 0; i-- {
		v := uint16(start[i]) + uint16(end[i]) + carry
		sum[i] = byte(v)
		carry = v >> 8
	}

	// Divide by two: shift right one bit, feeding the carry in on top
	rem := byte(carry)
	for i := 0; i < n; i++ {
		next := sum[i] & 1
		sum[i] = rem<<7 | sum[i]>>1
		rem = next
	}
	return sum
}

// NextKey returns the key incremented by one. The boolean return value
// indicates an overflow past the maximum key.
func NextKey(key []byte) ([]byte, bool) {
	next := make([]byte, len(key))
	copy(next, key)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			return next, false
		}
	}
	return next, true
}

// Split bisects the range at its midpoint into two non-overlapping,
// non-empty inclusive halves. The range must span more than one key.
func (r KeyRange) Split() (KeyRange, KeyRange) {
	mid := Midpoint(r.Start, r.End)
	upper, overflow := NextKey(mid)
	if overflow {
		// Unreachable for mid < End, kept as a guard against misuse
		panic("reconcile: split of a unit range")
	}
	return KeyRange{Start: r.Start, End: mid}, KeyRange{Start: upper, End: r.End}
}

// shortHex renders the first few bytes of a key for logs.
func shortHex(key []byte) string {
	if len(key) <= 4 {
		return hex.EncodeToString(key)
	}
	return hex.EncodeToString(key[:4]) + ".."
}
