// Package port defines the contract between the active-object engine
// and the execution host that schedules it.
//
// The engine is polymorphic over this contract. Package host ships two
// implementations: a lockstep scheduler that runs every active object
// on a single goroutine with strict priority selection, and a goroutine
// host that gives each active object its own goroutine and leaves
// scheduling to the Go runtime.
//
// The contract keeps the task/interrupt split of the embedded world.
// "Task context" is an active object's own run loop or any application
// goroutine that is allowed to block. "Interrupt context" is any caller
// that must never block: timer callbacks, OS signal handlers, cgo
// callbacks, pollers. Operations come in pairs accordingly, and mixing
// the flavors is a contract violation even on hosts where both map to
// the same primitive.
package port

// CritSect guards the engine's shared mutable state: pool free lists,
// queue indices and the subscriber registry. Sections are scoped and
// O(bounded) short; they are never held across a state-machine
// dispatch.
//
// Enter/Exit are the task-context flavor. EnterISR/ExitISR are the
// interrupt-context flavor and must never block the caller beyond the
// bounded section itself.
type CritSect interface {
	Enter()
	Exit()
	EnterISR()
	ExitISR()
}

// Task is the execution context of one attached active object, as seen
// by the code that posts work to it.
type Task interface {
	// Notify wakes the task from task context after work was queued.
	Notify()

	// NotifyISR wakes the task from interrupt context. Must not block.
	NotifyISR()

	// Wait blocks the calling task until a notification arrives. It
	// returns false when the host is stopping and the task should exit
	// its loop. Task context only; hosts that drive objects externally
	// never call it.
	Wait() bool
}

// Work is one active object as seen by its host: a prioritized queue
// consumer that executes one run-to-completion step at a time.
type Work interface {
	// Name identifies the object in logs and diagnostics.
	Name() string

	// Priority is the object's unique scheduling priority. Higher
	// values run first on hosts that honor priorities.
	Priority() uint8

	// StepOne pops and dispatches at most one queued event, reporting
	// false when the queue was empty. A step never blocks and is never
	// re-entered for the same object.
	StepOne() bool
}

// Runner creates and supervises the tasks that active objects run on.
type Runner interface {
	// CritSect returns the critical section shared by everything
	// attached to this host.
	CritSect() CritSect

	// Preemptive reports whether attached objects run on independent
	// contexts that may block. Cooperative hosts return false; the
	// engine rejects blocking operations on them.
	Preemptive() bool

	// Attach binds w to a new task. The returned Task is used to
	// signal w when work arrives. Attach after Stop is an error.
	Attach(w Work) (Task, error)

	// Stop tears down every task and releases any waiter. It is safe
	// to call more than once.
	Stop() error
}
