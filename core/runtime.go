package core

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/stator-io/stator/event"
	"github.com/stator-io/stator/hsm"
	"github.com/stator-io/stator/port"
)

const (
	// MaxActive bounds active-object priorities to 1..64 so that a
	// subscriber set fits one uint64 bitmask.
	MaxActive = 64

	// DefaultMaxSignal sizes the subscription registry when the
	// options leave it unset.
	DefaultMaxSignal event.Signal = 256
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Logger receives lifecycle records. Nil means slog.Default().
	Logger *slog.Logger

	// OnFailure handles fatal conditions: pool exhaustion, queue
	// overflow under the fatal policy, contract violations. It is
	// expected not to return; if it does, the failing operation makes
	// no state change. Defaults to panicking with the error.
	OnFailure func(error)

	// MaxSignal bounds publishable signals; the subscription registry
	// holds one mask per signal below it. Default DefaultMaxSignal.
	MaxSignal event.Signal
}

// DefaultRuntimeOptions returns the default runtime options.
func DefaultRuntimeOptions() *RuntimeOptions {
	return &RuntimeOptions{MaxSignal: DefaultMaxSignal}
}

// Runtime owns everything the active objects of one system share: the
// event pools, the subscription registry, the active-object table, the
// time-event lists and the execution host. All mutable state is
// guarded by the host's critical section; the runtime itself never
// spawns goroutines.
type Runtime struct {
	host  port.Runner
	crit  port.CritSect
	pools *event.PoolSet
	log   *slog.Logger
	fail  atomic.Value // func(error)

	// Guarded by crit.
	actives   [MaxActive + 1]*Active
	subs      []uint64
	timers    [MaxTickRate]*TimeEvent
	ticks     [MaxTickRate]uint64
	published uint64
	stopped   bool
}

// NewRuntime builds a runtime on top of host. opts may be nil.
func NewRuntime(host port.Runner, opts *RuntimeOptions) *Runtime {
	if opts == nil {
		opts = DefaultRuntimeOptions()
	}
	maxSignal := opts.MaxSignal
	if maxSignal == 0 {
		maxSignal = DefaultMaxSignal
	}
	rt := &Runtime{
		host: host,
		crit: host.CritSect(),
		log:  opts.Logger,
		subs: make([]uint64, maxSignal),
	}
	if rt.log == nil {
		rt.log = slog.Default()
	}
	rt.SetFailureHandler(opts.OnFailure)
	rt.pools = event.NewPoolSet(rt.crit, &event.PoolSetOptions{
		OnFailure: rt.raise,
		Logger:    rt.log,
	})
	return rt
}

// SetFailureHandler replaces the fatal-condition hook. A nil handler
// restores the default panic.
func (rt *Runtime) SetFailureHandler(h func(error)) {
	if h == nil {
		h = func(err error) { panic(err) }
	}
	rt.fail.Store(h)
}

// raise routes a fatal condition to the current failure hook. Every
// component the runtime constructs shares it.
func (rt *Runtime) raise(err error) {
	rt.fail.Load().(func(error))(err)
}

// Host returns the execution host the runtime was built on.
func (rt *Runtime) Host() port.Runner { return rt.host }

// Pools returns the runtime's event pool set. Pools must be registered
// before the objects that allocate from them start.
func (rt *Runtime) Pools() *event.PoolSet { return rt.pools }

// NewEvent allocates a pooled event. Task context.
func (rt *Runtime) NewEvent(size int, sig event.Signal) *event.Event {
	return rt.pools.New(size, sig)
}

// NewEventFromISR is NewEvent for interrupt context.
func (rt *Runtime) NewEventFromISR(size int, sig event.Signal) *event.Event {
	return rt.pools.NewFromISR(size, sig)
}

// MachineOptions returns hsm options wired to the runtime's logger and
// failure hook, so machine faults and engine faults land in one place.
func (rt *Runtime) MachineOptions(name string) *hsm.Options {
	return &hsm.Options{Name: name, Logger: rt.log, OnFailure: rt.raise}
}

// ActiveOptions configures one active object at Start.
type ActiveOptions struct {
	// Name identifies the object in logs and diagnostics. Defaults to
	// "active-<priority>".
	Name string

	// Priority is the object's unique scheduling priority, 1..MaxActive,
	// higher running first on priority-honoring hosts.
	Priority uint8

	// QueueStorage is the object's event queue ring. Capacity is fixed
	// at len(QueueStorage) and must not be zero.
	QueueStorage []*event.Event

	// Policy selects the queue's overflow behavior. The zero value is
	// event.OverflowFatal.
	Policy event.OverflowPolicy

	// InitEvent is passed to the machine's initial transition. May be
	// nil.
	InitEvent *event.Event
}

// Start brings one active object to life: it builds the object's queue,
// claims the priority slot, runs the machine's initial transition in
// the caller's context and attaches the object to the host. By the time
// Start returns, events may be delivered. Duplicate priorities are
// fatal.
func (rt *Runtime) Start(m hsm.Instance, opts ActiveOptions) (*Active, error) {
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("active-%d", opts.Priority)
	}
	if m == nil {
		err := errf(CodeStart, "start", name, "no state machine")
		rt.raise(err)
		return nil, err
	}
	if opts.Priority == 0 || opts.Priority > MaxActive {
		err := errf(CodePriorityRange, "start", name, "priority %d outside 1..%d", opts.Priority, MaxActive)
		rt.raise(err)
		return nil, err
	}
	if len(opts.QueueStorage) == 0 {
		err := errf(CodeStart, "start", name, "no queue storage")
		rt.raise(err)
		return nil, err
	}

	a := &Active{name: name, prio: opts.Priority, rt: rt, m: m}
	a.q = event.NewQueue(rt.pools, opts.QueueStorage, &event.QueueOptions{
		Name:   name,
		Policy: opts.Policy,
	})

	rt.crit.Enter()
	if rt.stopped {
		rt.crit.Exit()
		err := errf(CodeRuntimeState, "start", name, "runtime stopped")
		rt.raise(err)
		return nil, err
	}
	if prev := rt.actives[a.prio]; prev != nil {
		rt.crit.Exit()
		err := errf(CodePriorityInUse, "start", name, "priority %d already owned by %q", a.prio, prev.name)
		rt.raise(err)
		return nil, err
	}
	rt.actives[a.prio] = a
	rt.crit.Exit()

	// The initial transition runs before the host can deliver, so the
	// object's first event always finds a settled machine.
	m.Init(opts.InitEvent)
	a.state.Store(m.State())

	task, err := rt.host.Attach(a)
	if err != nil {
		rt.crit.Enter()
		rt.actives[a.prio] = nil
		rt.crit.Exit()
		ferr := &FrameworkError{Code: CodeStart, Op: "start", Object: name, Err: err}
		rt.raise(ferr)
		return nil, ferr
	}
	a.task = task
	a.q.Bind(task)
	// Anything posted between the slot claim and the bind is sitting
	// in the queue without a wakeup; kick once.
	task.Notify()

	rt.log.Info("active object started",
		"name", name,
		"priority", a.prio,
		"queue_capacity", len(opts.QueueStorage),
		"state", a.State(),
	)
	return a, nil
}

// Stop shuts the system down: every queue is drained first, so new
// posts are refused, stranded events are released and blocked posters
// wake, then the host tears down its tasks. Safe to call more than
// once; posts after Stop fail with event.ErrQueueClosed.
func (rt *Runtime) Stop() error {
	rt.crit.Enter()
	if rt.stopped {
		rt.crit.Exit()
		return nil
	}
	rt.stopped = true
	var objs []*Active
	for p := 1; p <= MaxActive; p++ {
		if a := rt.actives[p]; a != nil {
			objs = append(objs, a)
		}
	}
	rt.crit.Exit()

	released := 0
	for _, a := range objs {
		released += a.q.Drain()
	}
	err := rt.host.Stop()
	rt.log.Info("runtime stopped", "objects", len(objs), "events_released", released)
	return err
}

// Stopped reports whether Stop has run.
func (rt *Runtime) Stopped() bool {
	rt.crit.Enter()
	s := rt.stopped
	rt.crit.Exit()
	return s
}

func (rt *Runtime) enter(isr bool) {
	if isr {
		rt.crit.EnterISR()
	} else {
		rt.crit.Enter()
	}
}

func (rt *Runtime) exit(isr bool) {
	if isr {
		rt.crit.ExitISR()
	} else {
		rt.crit.Exit()
	}
}
