// Package sequence tracks per-flow UDP sequence numbers and classifies each
// arrival against the last accepted one.
package sequence

import (
	"fmt"

	"firestige.xyz/zwiftmon/internal/core"
)

// Kind is the outcome of Accept.
type Kind uint8

const (
	FirstSeen Kind = iota + 1
	InOrder
	Gap
	StaleOrDuplicate
)

func (k Kind) String() string {
	switch k {
	case FirstSeen:
		return "first_seen"
	case InOrder:
		return "in_order"
	case Gap:
		return "gap"
	case StaleOrDuplicate:
		return "stale_or_duplicate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Result is returned by Accept. Missing is only set for Gap.
type Result struct {
	Kind    Kind
	Missing uint64
	Last    uint64 // last accepted seqno before this call; zero for FirstSeen
}

// Accepted reports whether the packet should be decoded.
func (r Result) Accepted() bool {
	return r.Kind != StaleOrDuplicate
}

// Tracker holds the last accepted seqno per key.
// Not safe for concurrent use; owned by the processing goroutine.
type Tracker struct {
	last map[core.SeqKey]uint64
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[core.SeqKey]uint64)}
}

// Accept classifies seqno for key. Stale or duplicate packets leave the
// stored state untouched. A wrapped counter looks like a replay and is
// reported as stale.
func (t *Tracker) Accept(key core.SeqKey, seqno uint64) Result {
	last, ok := t.last[key]
	if !ok {
		t.last[key] = seqno
		return Result{Kind: FirstSeen}
	}

	switch {
	case seqno <= last:
		return Result{Kind: StaleOrDuplicate, Last: last}
	case seqno == last+1:
		t.last[key] = seqno
		return Result{Kind: InOrder, Last: last}
	default:
		t.last[key] = seqno
		return Result{Kind: Gap, Missing: seqno - (last + 1), Last: last}
	}
}

// Last returns the last accepted seqno for key.
func (t *Tracker) Last(key core.SeqKey) (uint64, bool) {
	v, ok := t.last[key]
	return v, ok
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int { return len(t.last) }

// Reset forgets every key.
func (t *Tracker) Reset() {
	clear(t.last)
}
