package event

import "errors"

// Recoverable conditions returned to callers.
var (
	// ErrQueueFull is returned by the non-blocking post variants when
	// the queue is at capacity and its policy is OverflowDrop.
	ErrQueueFull = errors.New("event: queue full")

	// ErrQueueClosed is returned by posts to a drained queue. The
	// posted reference has been released.
	ErrQueueClosed = errors.New("event: queue closed")
)

// Fatal conditions passed to the failure hook. They are never returned
// from the hot path; tests match them with errors.Is.
var (
	// ErrPoolExhausted means no registered pool with a sufficiently
	// large block size had a free block.
	ErrPoolExhausted = errors.New("event: pool exhausted")

	// ErrPoolOrder means Register was called with a block size not
	// strictly greater than the previously registered one.
	ErrPoolOrder = errors.New("event: pools must be registered in increasing block size order")

	// ErrPoolLimit means more than MaxPools pools were registered.
	ErrPoolLimit = errors.New("event: pool limit exceeded")

	// ErrPoolStorage means the storage handed to Register cannot hold
	// a single block.
	ErrPoolStorage = errors.New("event: pool storage too small")

	// ErrOverrelease means Release was called on a pooled event whose
	// reference count was already zero.
	ErrOverrelease = errors.New("event: release of unreferenced event")

	// ErrQueueStorage means a queue was created over an empty storage
	// slice.
	ErrQueueStorage = errors.New("event: queue storage is empty")

	// ErrQueueOverflow is the fatal flavor of queue overflow, raised
	// through the failure hook under OverflowFatal.
	ErrQueueOverflow = errors.New("event: queue overflow")
)
