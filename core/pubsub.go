package core

import (
	"math/bits"

	"github.com/stator-io/stator/event"
)

// Subscribe registers the object for events published with sig.
// Reserved signals and signals beyond the runtime's registry are
// fatal. Task context.
func (a *Active) Subscribe(sig event.Signal) error {
	rt := a.rt
	if sig < event.SigUser || int(sig) >= len(rt.subs) {
		err := errf(CodeSignalRange, "subscribe", a.name, "signal %v outside %v..%v", sig, event.SigUser, event.Signal(len(rt.subs)-1))
		rt.raise(err)
		return err
	}
	rt.crit.Enter()
	rt.subs[sig] |= 1 << (a.prio - 1)
	rt.crit.Exit()
	return nil
}

// Unsubscribe removes the object's registration for sig. Task context.
func (a *Active) Unsubscribe(sig event.Signal) error {
	rt := a.rt
	if sig < event.SigUser || int(sig) >= len(rt.subs) {
		err := errf(CodeSignalRange, "unsubscribe", a.name, "signal %v outside %v..%v", sig, event.SigUser, event.Signal(len(rt.subs)-1))
		rt.raise(err)
		return err
	}
	rt.crit.Enter()
	rt.subs[sig] &^= 1 << (a.prio - 1)
	rt.crit.Exit()
	return nil
}

// UnsubscribeAll removes the object from every signal's subscriber
// set. Task context.
func (a *Active) UnsubscribeAll() {
	rt := a.rt
	mask := uint64(1) << (a.prio - 1)
	rt.crit.Enter()
	for s := range rt.subs {
		rt.subs[s] &^= mask
	}
	rt.crit.Exit()
}

// Publish multicasts e to every object subscribed to its signal, in
// descending priority order, then gives up the caller's reference. A
// pooled event with no subscribers is recycled on the spot. Posting
// never blocks; per-queue overflow policies apply. Task context.
func (rt *Runtime) Publish(e *event.Event) {
	rt.publish(e, false)
}

// PublishFromISR is Publish for interrupt context.
func (rt *Runtime) PublishFromISR(e *event.Event) {
	rt.publish(e, true)
}

func (rt *Runtime) publish(e *event.Event, isr bool) {
	if e == nil {
		return
	}
	sig := e.Sig()
	if int(sig) >= len(rt.subs) {
		if isr {
			rt.pools.ReleaseFromISR(e)
		} else {
			rt.pools.Release(e)
		}
		rt.raise(errf(CodeSignalRange, "publish", "", "signal %v outside the registry", sig))
		return
	}

	// Snapshot subscribers under the critical section, deliver outside
	// it. An object started after the snapshot misses this event.
	var targets [MaxActive]*Active
	n := 0
	rt.enter(isr)
	for m := rt.subs[sig]; m != 0; {
		i := bits.Len64(m) - 1
		m &^= 1 << uint(i)
		if a := rt.actives[i+1]; a != nil {
			targets[n] = a
			n++
		}
	}
	rt.published++
	rt.exit(isr)

	for i := 0; i < n; i++ {
		if isr {
			rt.pools.RetainFromISR(e)
			_ = targets[i].q.TryPostFromISR(e)
		} else {
			rt.pools.Retain(e)
			_ = targets[i].q.TryPost(e)
		}
	}
	if isr {
		rt.pools.ReleaseFromISR(e)
	} else {
		rt.pools.Release(e)
	}
}
