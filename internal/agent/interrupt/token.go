// Package interrupt implements the cooperative stop counter shared by
// long-running agent sequences. Components snapshot the counter when a
// sequence begins and poll it at natural checkpoints; a changed value
// means a stop request arrived mid-sequence and the component should
// wind down with a neutral result.
package interrupt

import "sync/atomic"

// Token is a monotonic stop counter. The zero value is ready to use.
type Token struct {
	n atomic.Uint64
}

// Snapshot returns the current counter value.
func (t *Token) Snapshot() uint64 { return t.n.Load() }

// Stop records one stop request and returns the new counter value.
// The counter never decreases and is never reset.
func (t *Token) Stop() uint64 { return t.n.Add(1) }

// StoppedSince reports whether any stop happened after the snapshot
// was taken.
func (t *Token) StoppedSince(snap uint64) bool { return t.n.Load() != snap }
