// Package scheduler spreads reconciliation work fairly across all
// established sessions and their shared domains.
//
// Every (session, domain) pair owns at most one cursor. A fixed worker
// pool runs budgeted turns on runnable cursors, round-robin across
// sessions and round-robin across a session's domains, bounded by
// per-session and global in-flight caps. A converged pair rests for a
// configurable interval before a fresh full-range cursor is started, so
// continuously diverging pairs never starve behind converged ones.
package scheduler
