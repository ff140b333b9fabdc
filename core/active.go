package core

import (
	"sync/atomic"

	"github.com/stator-io/stator/event"
	"github.com/stator-io/stator/hsm"
	"github.com/stator-io/stator/port"
)

// Active is one active object: a state machine behind a bounded event
// queue, running at a unique priority. Applications hold the *Active
// returned by Runtime.Start and post through it; only the host's task
// ever pops the queue and dispatches, so handlers run strictly one
// event at a time.
type Active struct {
	name string
	prio uint8
	rt   *Runtime
	m    hsm.Instance
	q    *event.Queue
	task port.Task

	state      atomic.Value // string: last settled state
	dispatched atomic.Uint64
}

// Name identifies the object in logs and diagnostics.
func (a *Active) Name() string { return a.name }

// Priority returns the object's scheduling priority.
func (a *Active) Priority() uint8 { return a.prio }

// Runtime returns the runtime the object was started on.
func (a *Active) Runtime() *Runtime { return a.rt }

// Queue returns the object's event queue, for diagnostics.
func (a *Active) Queue() *event.Queue { return a.q }

// State returns the machine's last settled state name. Unlike the
// machine itself it is safe to read from any goroutine.
func (a *Active) State() string {
	s, _ := a.state.Load().(string)
	return s
}

// Dispatched returns the lifetime count of dispatched events.
func (a *Active) Dispatched() uint64 { return a.dispatched.Load() }

// Post places e at the tail of the object's queue without blocking,
// transferring the caller's reference. Overflow follows the queue's
// policy. Task context.
func (a *Active) Post(e *event.Event) error {
	return a.q.TryPost(e)
}

// PostFromISR is Post for interrupt context.
func (a *Active) PostFromISR(e *event.Event) error {
	return a.q.TryPostFromISR(e)
}

// PostFront places e at the head of the queue so it is dispatched
// before anything already queued. Task context.
func (a *Active) PostFront(e *event.Event) error {
	return a.q.TryPostFront(e)
}

// PostWait places e at the tail, suspending the caller until the queue
// has room. Only preemptive hosts can suspend a producer; on a
// cooperative host the call is fatal, e is released and the caller gets
// the error. Never call it from a state handler: a dispatch must not
// block.
func (a *Active) PostWait(e *event.Event) error {
	if !a.rt.host.Preemptive() {
		a.rt.pools.Release(e)
		err := errf(CodeBlockingPost, "post_wait", a.name, "cooperative host cannot suspend the poster")
		a.rt.raise(err)
		return err
	}
	return a.q.Post(e)
}

// Defer parks e on dq so it can be recalled after the current state is
// done with it. The queue gets its own reference; the caller keeps
// theirs, so deferring the event being dispatched needs no extra
// bookkeeping. Task context.
func (a *Active) Defer(dq *event.Queue, e *event.Event) error {
	a.rt.pools.Retain(e)
	return dq.TryPost(e)
}

// Recall moves the oldest deferred event from dq to the front of the
// object's own queue, so it is dispatched before anything that arrived
// while it was parked. It reports whether an event was recalled and
// accepted. Task context.
func (a *Active) Recall(dq *event.Queue) bool {
	e, ok := dq.TryPop()
	if !ok {
		return false
	}
	return a.q.TryPostFront(e) == nil
}

// StepOne pops and dispatches at most one queued event. Host run loops
// call it; applications never do.
func (a *Active) StepOne() bool {
	e, ok := a.q.TryPop()
	if !ok {
		return false
	}
	a.m.Dispatch(e)
	a.state.Store(a.m.State())
	a.dispatched.Add(1)
	a.rt.pools.Release(e)
	return true
}
