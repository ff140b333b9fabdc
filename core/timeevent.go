package core

import "github.com/stator-io/stator/event"

// MaxTickRate is the number of independent tick rates a runtime
// drives. Rate 0 is the conventional system tick.
const MaxTickRate = 4

// TimeEvent is a statically-allocated event an active object receives
// after a number of ticks. One-shot or periodic; a time event belongs
// to exactly one object and signal for its whole life, and may be
// armed, disarmed and re-armed freely from task context.
type TimeEvent struct {
	evt  event.Event
	act  *Active
	rt   *Runtime
	rate uint8

	// Guarded by the runtime critical section.
	ctr      uint32
	interval uint32
	armed    bool
	next     *TimeEvent
	fireNext *TimeEvent
}

// NewTimeEvent binds a time event to its receiver, signal and tick
// rate. A rate outside 0..MaxTickRate-1 is fatal.
func NewTimeEvent(a *Active, sig event.Signal, rate uint8) *TimeEvent {
	if rate >= MaxTickRate {
		a.rt.raise(errf(CodeTickRate, "new_time_event", a.name, "rate %d outside 0..%d", rate, MaxTickRate-1))
		return nil
	}
	return &TimeEvent{evt: event.NewStatic(sig), act: a, rt: a.rt, rate: rate}
}

// Sig returns the signal the time event posts.
func (te *TimeEvent) Sig() event.Signal { return te.evt.Sig() }

// Arm starts the countdown: the event fires after nTicks ticks of its
// rate, then every interval ticks, or once if interval is zero. Arming
// an armed event or arming with zero ticks is fatal. Task context.
func (te *TimeEvent) Arm(nTicks, interval uint32) {
	if nTicks == 0 {
		te.rt.raise(errf(CodeTimeEvent, "arm", te.act.name, "%v armed with zero ticks", te.evt.Sig()))
		return
	}
	te.rt.crit.Enter()
	if te.armed {
		te.rt.crit.Exit()
		te.rt.raise(errf(CodeTimeEvent, "arm", te.act.name, "%v already armed", te.evt.Sig()))
		return
	}
	te.ctr = nTicks
	te.interval = interval
	te.armed = true
	te.next = te.rt.timers[te.rate]
	te.rt.timers[te.rate] = te
	te.rt.crit.Exit()
}

// Disarm stops the countdown and reports whether the event was still
// armed; false means it already fired (or never was armed). Task
// context.
func (te *TimeEvent) Disarm() bool {
	rt := te.rt
	rt.crit.Enter()
	if !te.armed {
		rt.crit.Exit()
		return false
	}
	te.armed = false
	te.ctr = 0
	rt.unlink(te)
	rt.crit.Exit()
	return true
}

// Rearm restarts the countdown at nTicks, arming the event if it was
// not armed, and reports whether it was. A periodic event keeps its
// interval. Task context.
func (te *TimeEvent) Rearm(nTicks uint32) bool {
	if nTicks == 0 {
		te.rt.raise(errf(CodeTimeEvent, "rearm", te.act.name, "%v re-armed with zero ticks", te.evt.Sig()))
		return false
	}
	rt := te.rt
	rt.crit.Enter()
	was := te.armed
	te.ctr = nTicks
	if !te.armed {
		te.armed = true
		te.next = rt.timers[te.rate]
		rt.timers[te.rate] = te
	}
	rt.crit.Exit()
	return was
}

// Armed reports whether the countdown is running.
func (te *TimeEvent) Armed() bool {
	te.rt.crit.Enter()
	a := te.armed
	te.rt.crit.Exit()
	return a
}

// Ctr returns the remaining ticks, 0 when disarmed.
func (te *TimeEvent) Ctr() uint32 {
	te.rt.crit.Enter()
	c := te.ctr
	te.rt.crit.Exit()
	return c
}

// unlink removes te from its rate's armed list. Critical section held
// by the caller.
func (rt *Runtime) unlink(te *TimeEvent) {
	if rt.timers[te.rate] == te {
		rt.timers[te.rate] = te.next
		te.next = nil
		return
	}
	for p := rt.timers[te.rate]; p != nil; p = p.next {
		if p.next == te {
			p.next = te.next
			te.next = nil
			return
		}
	}
}

// Tick advances every armed time event of one rate and posts the
// expired ones to their objects through the interrupt-context path.
// Call it from the tick source for that rate: a ticker goroutine, a
// test, or a simulation loop. Tick itself never blocks.
func (rt *Runtime) Tick(rate uint8) {
	if rate >= MaxTickRate {
		rt.raise(errf(CodeTickRate, "tick", "", "rate %d outside 0..%d", rate, MaxTickRate-1))
		return
	}

	// Expirations are collected under the critical section and posted
	// after it: posting re-enters the critical section itself.
	var expired *TimeEvent
	rt.crit.EnterISR()
	rt.ticks[rate]++
	var prev *TimeEvent
	cur := rt.timers[rate]
	for cur != nil {
		cur.ctr--
		if cur.ctr != 0 {
			prev, cur = cur, cur.next
			continue
		}
		if cur.interval != 0 {
			cur.ctr = cur.interval
			cur.fireNext = expired
			expired = cur
			prev, cur = cur, cur.next
			continue
		}
		cur.armed = false
		nxt := cur.next
		cur.next = nil
		if prev == nil {
			rt.timers[rate] = nxt
		} else {
			prev.next = nxt
		}
		cur.fireNext = expired
		expired = cur
		cur = nxt
	}
	rt.crit.ExitISR()

	for te := expired; te != nil; {
		nxt := te.fireNext
		te.fireNext = nil
		_ = te.act.q.TryPostFromISR(&te.evt)
		te = nxt
	}
}

// Ticks returns the lifetime tick count of one rate.
func (rt *Runtime) Ticks(rate uint8) uint64 {
	if rate >= MaxTickRate {
		return 0
	}
	rt.crit.Enter()
	n := rt.ticks[rate]
	rt.crit.Exit()
	return n
}
