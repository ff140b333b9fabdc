package event

import (
	"fmt"

	"github.com/stator-io/stator/port"
)

// OverflowPolicy selects what a queue does when a post finds it full.
type OverflowPolicy uint8

const (
	// OverflowFatal raises the failure hook on overflow. The default:
	// a full queue means the system was sized wrong.
	OverflowFatal OverflowPolicy = iota

	// OverflowDrop releases the posted event's reference and returns
	// ErrQueueFull to the caller. Opt-in, for traffic that tolerates
	// loss.
	OverflowDrop
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowFatal:
		return "fatal"
	case OverflowDrop:
		return "drop"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseOverflowPolicy maps the configuration spelling to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "fatal", "":
		return OverflowFatal, nil
	case "drop":
		return OverflowDrop, nil
	default:
		return OverflowFatal, fmt.Errorf("event: unknown overflow policy %q", s)
	}
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	// Name identifies the queue in overflow reports and diagnostics.
	Name string

	// Policy selects the overflow behavior. Default OverflowFatal.
	Policy OverflowPolicy
}

// DefaultQueueOptions returns the default queue options.
func DefaultQueueOptions() *QueueOptions {
	return &QueueOptions{Policy: OverflowFatal}
}

// Queue is a bounded FIFO ring of event references owned by one active
// object. Capacity is fixed at construction; only references move
// through the ring, and the queue operations themselves adjust
// reference counts so ownership bookkeeping cannot be forgotten by
// callers: a successful post transfers the caller's reference to the
// queue, a drop releases it, a pop hands it to the consumer.
//
// Posts are legal from task context (TryPost, Post) and from interrupt
// context (TryPostFromISR). FIFO order holds per access path; the
// relative order of concurrent posts from different paths is whatever
// the critical section serializes. Pop is reserved for the owner's run
// loop.
type Queue struct {
	ps   *PoolSet
	ring []*Event

	head    int
	tail    int
	used    int
	minFree int
	closed  bool

	policy OverflowPolicy
	name   string
	owner  port.Task

	posted  uint64
	dropped uint64

	// space carries one token per freed slot to wake blocked posters;
	// done releases them on Drain.
	space chan struct{}
	done  chan struct{}
}

// NewQueue builds a queue over caller-provided ring storage. Capacity
// is len(storage); empty storage is fatal. opts may be nil.
func NewQueue(ps *PoolSet, storage []*Event, opts *QueueOptions) *Queue {
	if opts == nil {
		opts = DefaultQueueOptions()
	}
	if len(storage) == 0 {
		ps.fail(fmt.Errorf("%w: %q", ErrQueueStorage, opts.Name))
		return nil
	}
	return &Queue{
		ps:      ps,
		ring:    storage,
		minFree: len(storage),
		policy:  opts.Policy,
		name:    opts.Name,
		space:   make(chan struct{}, len(storage)),
		done:    make(chan struct{}),
	}
}

// Bind attaches the owner task that gets notified on every post.
// Unbound queues (deferred-event holding areas) notify nobody.
func (q *Queue) Bind(t port.Task) {
	q.ps.crit.Enter()
	q.owner = t
	q.ps.crit.Exit()
}

// TryPost inserts at the tail without blocking, transferring the
// caller's reference. On overflow the queue's policy applies. Task
// context.
func (q *Queue) TryPost(e *Event) error {
	return q.post(e, false)
}

// TryPostFromISR is TryPost for interrupt context.
func (q *Queue) TryPostFromISR(e *Event) error {
	return q.post(e, true)
}

func (q *Queue) post(e *Event, isr bool) error {
	q.enter(isr)
	if q.closed {
		q.exit(isr)
		q.ps.release(e, isr)
		return ErrQueueClosed
	}
	if q.used == len(q.ring) {
		return q.overflow(e, isr)
	}
	owner := q.insert(e, false)
	q.exit(isr)
	if owner != nil {
		if isr {
			owner.NotifyISR()
		} else {
			owner.Notify()
		}
	}
	return nil
}

// overflow finishes a post that found the ring full. Called with the
// critical section held in the isr flavor; always exits it.
func (q *Queue) overflow(e *Event, isr bool) error {
	if q.policy == OverflowDrop {
		q.dropped++
		q.exit(isr)
		q.ps.release(e, isr)
		return ErrQueueFull
	}
	name := q.name
	q.exit(isr)
	q.ps.fail(fmt.Errorf("%w: %q", ErrQueueOverflow, name))
	return ErrQueueFull
}

// insert places e at the tail (or head when front is set) and returns
// the owner to notify. Critical section held by the caller.
func (q *Queue) insert(e *Event, front bool) port.Task {
	if front {
		q.head--
		if q.head < 0 {
			q.head = len(q.ring) - 1
		}
		q.ring[q.head] = e
	} else {
		q.ring[q.tail] = e
		q.tail++
		if q.tail == len(q.ring) {
			q.tail = 0
		}
	}
	q.used++
	if free := len(q.ring) - q.used; free < q.minFree {
		q.minFree = free
	}
	q.posted++
	return q.owner
}

// TryPostFront inserts at the head so the event is popped before
// anything already queued. Used to recall deferred events. Task
// context; overflow handling matches TryPost.
func (q *Queue) TryPostFront(e *Event) error {
	q.ps.crit.Enter()
	if q.closed {
		q.ps.crit.Exit()
		q.ps.Release(e)
		return ErrQueueClosed
	}
	if q.used == len(q.ring) {
		return q.overflow(e, false)
	}
	owner := q.insert(e, true)
	q.ps.crit.Exit()
	if owner != nil {
		owner.Notify()
	}
	return nil
}

// Post inserts at the tail, suspending the caller until the queue has
// space. Task context only, and only on preemptive hosts; the engine
// rejects it elsewhere. Returns ErrQueueClosed if the queue drains
// while waiting.
func (q *Queue) Post(e *Event) error {
	for {
		q.ps.crit.Enter()
		if q.closed {
			q.ps.crit.Exit()
			q.ps.Release(e)
			return ErrQueueClosed
		}
		if q.used < len(q.ring) {
			owner := q.insert(e, false)
			q.ps.crit.Exit()
			if owner != nil {
				owner.Notify()
			}
			return nil
		}
		q.ps.crit.Exit()
		select {
		case <-q.space:
		case <-q.done:
		}
	}
}

// TryPop removes and returns the head entry, handing the queue's
// reference to the caller. Owner run loop only.
func (q *Queue) TryPop() (*Event, bool) {
	q.ps.crit.Enter()
	if q.used == 0 {
		q.ps.crit.Exit()
		return nil, false
	}
	e := q.ring[q.head]
	q.ring[q.head] = nil
	q.head++
	if q.head == len(q.ring) {
		q.head = 0
	}
	q.used--
	q.ps.crit.Exit()
	select {
	case q.space <- struct{}{}:
	default:
	}
	return e, true
}

// Drain closes the queue and releases every queued reference. Further
// posts fail with ErrQueueClosed and blocked posters are woken.
// Shutdown path only; returns the number of events released.
func (q *Queue) Drain() int {
	q.ps.crit.Enter()
	if q.closed {
		q.ps.crit.Exit()
		return 0
	}
	q.closed = true
	stranded := make([]*Event, 0, q.used)
	for q.used > 0 {
		stranded = append(stranded, q.ring[q.head])
		q.ring[q.head] = nil
		q.head++
		if q.head == len(q.ring) {
			q.head = 0
		}
		q.used--
	}
	q.ps.crit.Exit()
	close(q.done)
	for _, e := range stranded {
		q.ps.Release(e)
	}
	return len(stranded)
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

// Capacity returns the fixed ring capacity.
func (q *Queue) Capacity() int { return len(q.ring) }

// Policy returns the overflow policy.
func (q *Queue) Policy() OverflowPolicy { return q.policy }

// Depth returns the number of queued entries.
func (q *Queue) Depth() int {
	q.ps.crit.Enter()
	d := q.used
	q.ps.crit.Exit()
	return d
}

// MinFree returns the low watermark of free slots, for sizing
// diagnostics.
func (q *Queue) MinFree() int {
	q.ps.crit.Enter()
	m := q.minFree
	q.ps.crit.Exit()
	return m
}

// Posted returns the lifetime count of accepted posts.
func (q *Queue) Posted() uint64 {
	q.ps.crit.Enter()
	n := q.posted
	q.ps.crit.Exit()
	return n
}

// Dropped returns the lifetime count of events dropped on overflow.
func (q *Queue) Dropped() uint64 {
	q.ps.crit.Enter()
	n := q.dropped
	q.ps.crit.Exit()
	return n
}

func (q *Queue) enter(isr bool) {
	if isr {
		q.ps.crit.EnterISR()
	} else {
		q.ps.crit.Enter()
	}
}

func (q *Queue) exit(isr bool) {
	if isr {
		q.ps.crit.ExitISR()
	} else {
		q.ps.crit.Exit()
	}
}
