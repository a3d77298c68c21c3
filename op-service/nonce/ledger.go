// Package nonce tracks per-account transaction sequence numbers for senders
// that keep many transactions in flight at once.
package nonce

import "sync/atomic"

// Ledger hands out strictly increasing nonces to concurrent submitters.
// All methods are safe for concurrent use and never block.
type Ledger struct {
	next atomic.Uint64
}

// NewLedger returns a ledger whose first reservation is start.
func NewLedger(start uint64) *Ledger {
	l := &Ledger{}
	l.next.Store(start)
	return l
}

// Reserve claims the next nonce. Each value is returned at most once until it
// is given back with Rollback or Release.
func (l *Ledger) Reserve() uint64 {
	return l.next.Add(1) - 1
}

// Rollback gives one nonce back after a reserved submission was not accepted.
// The counter never drops below zero.
//
// Rollback does not know which reservation it compensates for: if another
// submitter reserved a nonce in the meantime, that later slot is the one that
// gets reused. Use Release when the reserved value is known.
func (l *Ledger) Rollback() {
	for {
		cur := l.next.Load()
		if cur == 0 {
			return
		}
		if l.next.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Release gives back the reserved nonce only if it is still the most recent
// reservation. It reports whether the counter was decremented.
func (l *Ledger) Release(reserved uint64) bool {
	return l.next.CompareAndSwap(reserved+1, reserved)
}

// Current returns the nonce the next Reserve would return. Under concurrent
// use this is only a snapshot.
func (l *Ledger) Current() uint64 {
	return l.next.Load()
}

// Set overwrites the counter, e.g. after reading the pending nonce from the
// network. Regular submission paths must not call it.
func (l *Ledger) Set(v uint64) {
	l.next.Store(v)
}
