package core

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stator-io/stator/event"
	"github.com/stator-io/stator/host"
	"github.com/stator-io/stator/hsm"
)

const (
	sigA event.Signal = event.SigUser + iota
	sigB
	sigPing
	sigPong
	sigTock
)

// failRecorder stands in for the failure hook so fatal paths can be
// observed instead of panicking.
type failRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (f *failRecorder) hook(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *failRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func (f *failRecorder) last() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return nil
	}
	return f.errs[len(f.errs)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seq records the cross-object dispatch order.
type seq struct {
	mu    sync.Mutex
	names []string
}

func (s *seq) add(name string) {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
}

func (s *seq) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// probe is a one-state active object that records every user signal it
// dispatches.
type probe struct {
	name string
	seq  *seq

	mu  sync.Mutex
	got []event.Signal
}

func (p *probe) boot(e *event.Event) hsm.Outcome { return hsm.Tran(probeIdle) }

func (p *probe) on(e *event.Event) hsm.Outcome {
	sig := e.Sig()
	if sig < event.SigUser {
		return hsm.Unhandled()
	}
	p.mu.Lock()
	p.got = append(p.got, sig)
	p.mu.Unlock()
	if p.seq != nil {
		p.seq.add(p.name)
	}
	return hsm.Handled()
}

var probeIdle = hsm.NewState[probe]("idle", nil, (*probe).on)

func (p *probe) signals() []event.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Signal(nil), p.got...)
}

func newTestRuntime(t *testing.T) (*Runtime, *host.Lockstep, *failRecorder) {
	t.Helper()
	h := host.NewLockstep()
	rec := &failRecorder{}
	rt := NewRuntime(h, &RuntimeOptions{
		Logger:    quietLogger(),
		OnFailure: rec.hook,
		MaxSignal: 64,
	})
	rt.Pools().Register(make([]byte, 32*8), 32)
	return rt, h, rec
}

func startProbe(t *testing.T, rt *Runtime, name string, prio uint8, capacity int) (*Active, *probe) {
	t.Helper()
	p := &probe{name: name}
	m := hsm.New(p, (*probe).boot, rt.MachineOptions(name))
	a, err := rt.Start(m, ActiveOptions{
		Name:         name,
		Priority:     prio,
		QueueStorage: make([]*event.Event, capacity),
	})
	require.NoError(t, err)
	return a, p
}

func TestStartValidation(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	p := &probe{}
	m := hsm.New(p, (*probe).boot, rt.MachineOptions("p"))
	storage := make([]*event.Event, 2)

	_, err := rt.Start(nil, ActiveOptions{Name: "x", Priority: 1, QueueStorage: storage})
	assert.True(t, IsCode(err, CodeStart))

	_, err = rt.Start(m, ActiveOptions{Name: "x", Priority: 0, QueueStorage: storage})
	assert.True(t, IsCode(err, CodePriorityRange))

	_, err = rt.Start(m, ActiveOptions{Name: "x", Priority: MaxActive + 1, QueueStorage: storage})
	assert.True(t, IsCode(err, CodePriorityRange))

	_, err = rt.Start(m, ActiveOptions{Name: "x", Priority: 1})
	assert.True(t, IsCode(err, CodeStart))

	assert.Equal(t, 4, rec.count(), "every rejected start is fatal")
}

func TestStartRejectsDuplicatePriority(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	startProbe(t, rt, "first", 3, 2)

	p := &probe{}
	m := hsm.New(p, (*probe).boot, rt.MachineOptions("second"))
	_, err := rt.Start(m, ActiveOptions{Name: "second", Priority: 3, QueueStorage: make([]*event.Event, 2)})

	require.Error(t, err)
	assert.True(t, IsCode(err, CodePriorityInUse))
	require.Equal(t, 1, rec.count())
}

func TestStartSettlesMachineBeforeReturn(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	a, _ := startProbe(t, rt, "p", 1, 2)

	assert.Equal(t, "idle", a.State())
	assert.Equal(t, uint8(1), a.Priority())
	assert.Equal(t, "p", a.Name())
	assert.Equal(t, 2, a.Queue().Capacity())
}

func TestPostDispatchRelease(t *testing.T) {
	rt, h, rec := newTestRuntime(t)
	a, p := startProbe(t, rt, "p", 1, 4)

	e := rt.NewEvent(8, sigA)
	require.NoError(t, a.Post(e))
	assert.Equal(t, 1, h.RunUntilIdle())

	assert.Equal(t, []event.Signal{sigA}, p.signals())
	assert.Equal(t, uint64(1), a.Dispatched())
	allocated, recycled := rt.Pools().Counters()
	assert.Equal(t, uint64(1), allocated)
	assert.Equal(t, uint64(1), recycled, "dispatched event must return to its pool")
	assert.Zero(t, rec.count())
}

func TestPublishMulticastsByDescendingPriority(t *testing.T) {
	rt, h, rec := newTestRuntime(t)
	order := &seq{}
	a1, p1 := startProbe(t, rt, "p1", 1, 4)
	a2, p2 := startProbe(t, rt, "p2", 2, 4)
	a3, p3 := startProbe(t, rt, "p3", 3, 4)
	for _, p := range []*probe{p1, p2, p3} {
		p.seq = order
	}
	for _, a := range []*Active{a1, a2, a3} {
		require.NoError(t, a.Subscribe(sigA))
	}

	rt.Publish(rt.NewEvent(8, sigA))
	h.RunUntilIdle()

	assert.Equal(t, []string{"p3", "p2", "p1"}, order.snapshot())
	for _, p := range []*probe{p1, p2, p3} {
		assert.Equal(t, []event.Signal{sigA}, p.signals())
	}
	allocated, recycled := rt.Pools().Counters()
	assert.Equal(t, uint64(1), allocated, "multicast shares one pooled event")
	assert.Equal(t, uint64(1), recycled)
	assert.Zero(t, rec.count())
}

func TestPublishWithoutSubscribersRecycles(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	startProbe(t, rt, "p", 1, 4)

	rt.Publish(rt.NewEvent(8, sigB))

	_, recycled := rt.Pools().Counters()
	assert.Equal(t, uint64(1), recycled, "no subscriber, immediate recycle")
	assert.Zero(t, rec.count())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	rt, h, _ := newTestRuntime(t)
	a, p := startProbe(t, rt, "p", 1, 4)

	require.NoError(t, a.Subscribe(sigA))
	require.NoError(t, a.Subscribe(sigB))
	rt.Publish(rt.NewEvent(0, sigA))
	rt.Publish(rt.NewEvent(0, sigB))
	h.RunUntilIdle()
	require.Equal(t, []event.Signal{sigA, sigB}, p.signals())

	require.NoError(t, a.Unsubscribe(sigA))
	rt.Publish(rt.NewEvent(0, sigA))
	h.RunUntilIdle()
	assert.Equal(t, []event.Signal{sigA, sigB}, p.signals(), "unsubscribed signal must not arrive")

	a.UnsubscribeAll()
	rt.Publish(rt.NewEvent(0, sigB))
	h.RunUntilIdle()
	assert.Equal(t, []event.Signal{sigA, sigB}, p.signals())

	allocated, recycled := rt.Pools().Counters()
	assert.Equal(t, allocated, recycled)
}

func TestSubscribeRangeIsFatal(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	a, _ := startProbe(t, rt, "p", 1, 4)

	err := a.Subscribe(event.SigEntry)
	assert.True(t, IsCode(err, CodeSignalRange), "reserved signals are not publishable")

	err = a.Subscribe(event.Signal(64))
	assert.True(t, IsCode(err, CodeSignalRange), "beyond the registry")

	err = a.Unsubscribe(event.Signal(64))
	assert.True(t, IsCode(err, CodeSignalRange))

	assert.Equal(t, 3, rec.count())
}

func TestPublishBeyondRegistryIsFatal(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	startProbe(t, rt, "p", 1, 4)

	rt.Publish(rt.NewEvent(0, event.Signal(64)))

	require.Equal(t, 1, rec.count())
	assert.True(t, IsCode(rec.last(), CodeSignalRange))
	_, recycled := rt.Pools().Counters()
	assert.Equal(t, uint64(1), recycled, "the rejected event must not leak")
}

// Two objects post to each other until both reach their rally limit;
// the whole exchange runs to completion inside one RunUntilIdle.
func TestPostCascadeRunsToCompletion(t *testing.T) {
	rt, h, rec := newTestRuntime(t)

	ping := &rally{rt: rt, out: sigPong, limit: 3}
	pong := &rally{rt: rt, out: sigPing, limit: 3}
	mPing := hsm.New(ping, (*rally).boot, rt.MachineOptions("ping"))
	mPong := hsm.New(pong, (*rally).boot, rt.MachineOptions("pong"))

	aPing, err := rt.Start(mPing, ActiveOptions{Name: "ping", Priority: 2, QueueStorage: make([]*event.Event, 4)})
	require.NoError(t, err)
	aPong, err := rt.Start(mPong, ActiveOptions{Name: "pong", Priority: 1, QueueStorage: make([]*event.Event, 4)})
	require.NoError(t, err)
	// Nothing runs until the host is stepped, so wiring the peers
	// after Start is race-free on the lockstep host.
	ping.peer = aPong
	pong.peer = aPing

	require.NoError(t, aPing.Post(rt.NewEvent(0, sigPing)))
	steps := h.RunUntilIdle()

	assert.Equal(t, 7, steps)
	assert.Equal(t, uint64(4), aPing.Dispatched())
	assert.Equal(t, uint64(3), aPong.Dispatched())
	allocated, recycled := rt.Pools().Counters()
	assert.Equal(t, uint64(7), allocated)
	assert.Equal(t, uint64(7), recycled)
	assert.Zero(t, rec.count())
}

// rally posts its out signal back to the peer for every event it
// receives, up to limit.
type rally struct {
	rt    *Runtime
	peer  *Active
	out   event.Signal
	limit int
	count int
}

func (r *rally) boot(e *event.Event) hsm.Outcome { return hsm.Tran(rallyOn) }

func (r *rally) on(e *event.Event) hsm.Outcome {
	if e.Sig() < event.SigUser {
		return hsm.Unhandled()
	}
	r.count++
	if r.count <= r.limit {
		_ = r.peer.Post(r.rt.NewEvent(0, r.out))
	}
	return hsm.Handled()
}

var rallyOn = hsm.NewState[rally]("on", nil, (*rally).on)

func TestStopDrainsQueuesAndRefusesPosts(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	a, _ := startProbe(t, rt, "p", 1, 4)

	require.NoError(t, a.Post(rt.NewEvent(8, sigA)))
	require.NoError(t, a.Post(rt.NewEvent(8, sigB)))

	require.NoError(t, rt.Stop())
	assert.True(t, rt.Stopped())
	_, recycled := rt.Pools().Counters()
	assert.Equal(t, uint64(2), recycled, "stranded events are released on stop")

	err := a.Post(rt.NewEvent(8, sigA))
	assert.ErrorIs(t, err, event.ErrQueueClosed)
	_, recycled = rt.Pools().Counters()
	assert.Equal(t, uint64(3), recycled, "post after stop releases the event")

	require.NoError(t, rt.Stop(), "stop must be idempotent")

	p := &probe{}
	m := hsm.New(p, (*probe).boot, rt.MachineOptions("late"))
	_, err = rt.Start(m, ActiveOptions{Name: "late", Priority: 9, QueueStorage: make([]*event.Event, 2)})
	assert.True(t, IsCode(err, CodeRuntimeState))
	assert.Equal(t, 1, rec.count())
}

func TestSnapshot(t *testing.T) {
	rt, h, _ := newTestRuntime(t)
	aHigh, _ := startProbe(t, rt, "high", 3, 4)
	aLow, _ := startProbe(t, rt, "low", 1, 2)

	require.NoError(t, aHigh.Post(rt.NewEvent(8, sigA)))
	require.NoError(t, aLow.Post(rt.NewEvent(8, sigB)))
	h.RunUntilIdle()
	require.NoError(t, aHigh.Post(rt.NewEvent(8, sigA))) // left queued

	snap := rt.Snapshot()
	assert.True(t, snap.Running)
	require.Len(t, snap.Objects, 2)
	assert.Equal(t, "low", snap.Objects[0].Name, "objects are listed by ascending priority")
	assert.Equal(t, "high", snap.Objects[1].Name)
	assert.Equal(t, 1, snap.Objects[1].QueueDepth)
	assert.Equal(t, 4, snap.Objects[1].QueueCapacity)
	assert.Equal(t, uint64(2), snap.Objects[1].Posted)
	assert.Equal(t, uint64(1), snap.Objects[1].Dispatched)
	assert.Equal(t, "idle", snap.Objects[0].State)
	require.Len(t, snap.Pools, 1)
	assert.Equal(t, 32, snap.Pools[0].BlockSize)
	assert.Equal(t, uint64(3), snap.EventsAllocated)
	assert.Equal(t, uint64(3), snap.Posted)
	assert.Equal(t, uint64(2), snap.Dispatched)
	assert.Len(t, snap.Ticks, MaxTickRate)

	require.NoError(t, rt.Stop())
	snap = rt.Snapshot()
	assert.False(t, snap.Running)
}

func TestMachineOptionsRouteFaultsToRuntimeHook(t *testing.T) {
	rt, _, rec := newTestRuntime(t)

	p := &probe{}
	m := hsm.New(p, (*probe).boot, rt.MachineOptions("p"))
	m.Init(nil)
	m.Init(nil)

	require.Equal(t, 1, rec.count())
	assert.ErrorIs(t, rec.last(), hsm.ErrAlreadyInitialized)
}

func TestDefaultFailureHandlerPanics(t *testing.T) {
	rt := NewRuntime(host.NewLockstep(), &RuntimeOptions{Logger: quietLogger()})
	require.Panics(t, func() { rt.Tick(MaxTickRate) })
}

func TestSetFailureHandlerNilRestoresPanic(t *testing.T) {
	rt, _, rec := newTestRuntime(t)
	rt.Tick(MaxTickRate)
	require.Equal(t, 1, rec.count())

	rt.SetFailureHandler(nil)
	require.Panics(t, func() { rt.Tick(MaxTickRate) })
}

func TestGoroutineHostEndToEnd(t *testing.T) {
	h := host.NewGoroutine()
	rec := &failRecorder{}
	rt := NewRuntime(h, &RuntimeOptions{Logger: quietLogger(), OnFailure: rec.hook})
	rt.Pools().Register(make([]byte, 32*16), 32)
	a, p := startProbe(t, rt, "p", 1, 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Post(rt.NewEvent(8, sigA)))
	}
	require.NoError(t, a.PostWait(rt.NewEvent(8, sigB)), "blocking post is legal on a preemptive host")

	require.Eventually(t, func() bool {
		return len(p.signals()) == 6
	}, time.Second, time.Millisecond)

	require.NoError(t, rt.Stop())
	err := a.Post(rt.NewEvent(8, sigA))
	assert.ErrorIs(t, err, event.ErrQueueClosed)
	assert.Zero(t, rec.count())
}
