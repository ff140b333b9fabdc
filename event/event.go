// Package event implements the event plumbing of the framework:
// signals, reference-counted pool-allocated events, fixed-block event
// pools and bounded FIFO event queues.
//
// Events are fixed-size records. The payload is a byte slice into the
// owning pool's block storage, so the hot path never touches the heap;
// applications lay out typed payloads with encoding/binary codecs.
// Ownership always runs pool -> event -> (transiently) queue: queues
// hold references they do not own, and a block returns to its pool's
// free list exactly when the last reference is released.
package event

import "fmt"

// Signal identifies an event type. The low range is reserved for the
// framework; applications define their signals starting at SigUser.
type Signal uint16

const (
	// sigEmpty is the internal probe signal; handlers never see it.
	sigEmpty Signal = iota

	// SigEntry is delivered to a state handler when the state is
	// entered during a transition.
	SigEntry

	// SigExit is delivered to a state handler when the state is exited
	// during a transition.
	SigExit

	// SigInit asks a freshly entered composite state for its initial
	// transition.
	SigInit

	// SigUser is the first signal available to applications.
	SigUser
)

// String renders reserved signals by name and user signals numerically.
func (s Signal) String() string {
	switch s {
	case sigEmpty:
		return "empty"
	case SigEntry:
		return "entry"
	case SigExit:
		return "exit"
	case SigInit:
		return "init"
	default:
		return fmt.Sprintf("sig(%d)", uint16(s))
	}
}

// Event is an immutable signal-tagged record flowing through queues.
//
// A pooled event (allocated through PoolSet.New) carries a reference
// count: 1 for the allocator, plus one per additional queue it was
// retained into. Posting transfers the caller's reference; Release by
// the final consumer returns the block to its pool. A static event
// (Static or NewStatic) has no pool; it is never recycled and must
// outlive all of its consumers by construction.
type Event struct {
	sig    Signal
	poolID uint8
	slot   int32
	refCnt uint16
	data   []byte
}

// Sig returns the event's signal.
func (e *Event) Sig() Signal { return e.sig }

// Data returns the payload view. It is nil for static events and has
// the length requested at allocation for pooled ones. Consumers must
// not write to it once the event has been posted.
func (e *Event) Data() []byte { return e.data }

// Pooled reports whether the event came from a pool and is subject to
// reference counting.
func (e *Event) Pooled() bool { return e.poolID != 0 }

// NewStatic returns a static event by value, for embedding in larger
// framework structures such as time events.
func NewStatic(sig Signal) Event {
	return Event{sig: sig}
}

// Static returns a statically-allocated event carrying only a signal.
// The caller guarantees it outlives every consumer.
func Static(sig Signal) *Event {
	e := NewStatic(sig)
	return &e
}
