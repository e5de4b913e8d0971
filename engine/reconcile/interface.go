package reconcile

import "github.com/ValentinKolb/dSync/lib/store"

// IPeer is the slice of a session the reconciler needs: the four
// domain-scoped remote operations, each strictly ordered per domain.
// *session.Session implements it; tests substitute in-process fakes.
type IPeer interface {
	// RangeCount returns the peer's key count for an inclusive range as
	// of the given watermark, along with the peer's clamped watermark.
	RangeCount(domain string, start, end []byte, watermark store.Watermark) (uint64, store.Watermark, error)
	// KeyList returns the peer's sorted key list for an inclusive range.
	KeyList(domain string, start, end []byte, watermark store.Watermark) ([][]byte, store.Watermark, error)
	// RequestRecord fetches one record from the peer.
	RequestRecord(domain string, key []byte, maxValueSize int) ([]byte, bool, error)
	// PushRecord sends a record the peer is known to lack.
	PushRecord(domain string, key, value []byte) error
}
