package reconcile

import (
	"bytes"
	"fmt"

	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("reconcile")

var (
	rangesCompared = metrics.NewCounter("dsync_ranges_compared_total")
	rangesSplit    = metrics.NewCounter("dsync_ranges_split_total")
	recordsPulled  = metrics.NewCounter("dsync_records_pulled_total")
	recordsPushed  = metrics.NewCounter("dsync_records_pushed_total")
)

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// Stats counts what one cursor did over its lifetime.
type Stats struct {
	RangesCompared uint64 // Count digests exchanged
	RangesSplit    uint64 // Diverged ranges bisected
	KeysPulled     uint64 // Records fetched from the peer
	KeysPushed     uint64 // Records sent to the peer
	KeysMutated    uint64 // Applied records that changed local state
}

// Cursor drives the recursive range-bisection reconciliation for one
// (peer, domain) pair. The bisection is an explicit work-list, not call
// recursion, so a cursor can be suspended between scheduling turns and
// bounded by a per-turn budget.
//
// At most one cursor may be active per (peer, domain) pair; the
// scheduler upholds this, which in turn guarantees the session's strict
// per-domain request ordering.
//
// Thread-safety: a cursor is single-owner; only one goroutine may call
// Step at a time.
type Cursor struct {
	peer      IPeer
	st        store.IDataStore
	domain    string
	watermark store.Watermark
	threshold uint64

	// bisection frontier: ranges still pending comparison, stack order
	frontier []KeyRange
	stats    Stats
}

// NewCursor creates a top-level cursor covering the entire key space.
// The watermark is fixed at creation so the whole run sees a consistent
// snapshot of the local store; it is only ever lowered, to the remote's
// clamped value.
func NewCursor(peer IPeer, st store.IDataStore, threshold uint64) *Cursor {
	return &Cursor{
		peer:      peer,
		st:        st,
		domain:    st.Domain(),
		watermark: st.Clock(),
		threshold: threshold,
		frontier:  []KeyRange{FullRange(st.KeySize())},
	}
}

// Domain returns the domain this cursor reconciles.
func (c *Cursor) Domain() string {
	return c.domain
}

// Converged reports whether the frontier is empty, i.e. the comparison
// reached full convergence as of the cursor's watermark.
func (c *Cursor) Converged() bool {
	return len(c.frontier) == 0
}

// Stats returns what the cursor has done so far.
func (c *Cursor) Stats() Stats {
	return c.stats
}

// Step compares up to budget ranges. It returns true once the cursor has
// converged. On an error (remote store failure, local store failure,
// session loss) the current range stays on the frontier and is retried
// on the next scheduling turn.
func (c *Cursor) Step(budget int) (bool, error) {
	for i := 0; i < budget && len(c.frontier) > 0; i++ {
		// Pop the top of the frontier, depth-first
		r := c.frontier[len(c.frontier)-1]
		c.frontier = c.frontier[:len(c.frontier)-1]

		if err := c.compareRange(r); err != nil {
			c.frontier = append(c.frontier, r)
			return false, fmt.Errorf("comparing %s in domain %q: %w", r, c.domain, err)
		}
	}
	return c.Converged(), nil
}

// --------------------------------------------------------------------------
// Range Comparison
// --------------------------------------------------------------------------

// compareRange performs one full request/response comparison unit for a
// single range. It either converges the range, splits it onto the
// frontier, or repairs it via exact key exchange.
func (c *Cursor) compareRange(r KeyRange) error {
	local, err := c.st.Count(c.watermark, r.Start, r.End)
	if err != nil {
		return err
	}

	remote, remoteW, err := c.peer.RangeCount(c.domain, r.Start, r.End, c.watermark)
	if err != nil {
		return err
	}
	rangesCompared.Inc()
	c.stats.RangesCompared++

	// The remote clamps to its own clock; continue with the smaller of
	// the two watermarks so both sides query the same snapshot bound
	if remoteW < c.watermark {
		c.watermark = remoteW
	}

	switch {
	case local == 0 && remote == 0:
		// Trivially converged, nothing to exchange
		return nil

	case local == remote && local > c.threshold:
		// Equal counts are accepted as likely converged above the exact
		// exchange threshold; periodic full-range restarts bound the
		// exposure to count-collision false negatives
		return nil

	case local <= c.threshold && remote <= c.threshold:
		// Small enough on both sides for exact comparison, whether the
		// counts matched (verification) or not (repair)
		return c.exactExchange(r)

	case r.Unit():
		// Cannot split further, counts can only be 0 or 1 per side
		return c.exactExchange(r)

	default:
		left, right := r.Split()
		rangesSplit.Inc()
		c.stats.RangesSplit++
		// Push right first so the left half is compared next (depth
		// first, ascending key order)
		c.frontier = append(c.frontier, right, left)
		return nil
	}
}

// exactExchange reconciles a small range by fetching the peer's literal
// sorted key list and pulling every record on it. Counts are blind to
// content, so a key present on both sides may still hide a diverged
// value; the idempotent store settles the two cases (identical value
// stores as duplicate, diverged value is replaced). Keys only we hold
// are pushed, the peer is known to lack those.
func (c *Cursor) exactExchange(r KeyRange) error {
	var local [][]byte
	err := c.st.ForEach(c.watermark, r.Start, r.End, func(key, _ []byte) bool {
		local = append(local, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return err
	}

	remote, _, err := c.peer.KeyList(c.domain, r.Start, r.End, c.watermark)
	if err != nil {
		return err
	}

	_, extra := diffKeyLists(local, remote)
	if len(remote) > 0 || len(extra) > 0 {
		Logger.Debugf("exchanging %s in domain %q: pulling %d, pushing %d", r, c.domain, len(remote), len(extra))
	}

	for _, key := range remote {
		value, found, err := c.peer.RequestRecord(c.domain, key, c.st.MaxValueSize())
		if err != nil {
			return err
		}
		if !found {
			// The peer lost the key since listing it; the next full
			// cursor restart settles the difference
			continue
		}
		result, err := c.st.Store(key, value)
		if err != nil {
			return err
		}
		recordsPulled.Inc()
		c.stats.KeysPulled++
		if result == store.StoreResultStored {
			c.stats.KeysMutated++
		}
	}

	for _, key := range extra {
		value, found, err := c.st.Load(c.watermark, key)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := c.peer.PushRecord(c.domain, key, value); err != nil {
			return err
		}
		recordsPushed.Inc()
		c.stats.KeysPushed++
	}

	return nil
}

// diffKeyLists diffs two sorted key lists. It returns the keys present
// only in the remote list (missing locally) and the keys present only in
// the local list (extra locally).
func diffKeyLists(local, remote [][]byte) (missing, extra [][]byte) {
	i, j := 0, 0
	for i < len(local) && j < len(remote) {
		switch bytes.Compare(local[i], remote[j]) {
		case 0:
			i++
			j++
		case -1:
			extra = append(extra, local[i])
			i++
		case 1:
			missing = append(missing, remote[j])
			j++
		}
	}
	extra = append(extra, local[i:]...)
	missing = append(missing, remote[j:]...)
	return missing, extra
}
