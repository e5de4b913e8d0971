// Package reconcile implements the anti-entropy core: recursive range
// bisection driven by count digests.
//
// A cursor fixes a watermark, starts from the full key range and
// compares local and remote key counts. Diverged ranges are split at
// their byte-wise midpoint and pushed onto an explicit frontier stack;
// once a range is small enough, the literal key lists are exchanged and
// the set difference is repaired by pulling and pushing individual
// records. Network cost is therefore proportional to the amount of
// divergence, not to store size.
package reconcile
