// Package host ships the execution hosts active objects run on: a
// lockstep scheduler that dispatches every object from one goroutine
// in strict priority order, and a goroutine host that gives each
// object its own goroutine and leaves scheduling to the Go runtime.
//
// Both satisfy port.Runner, so the engine and the applications on top
// of it are host-agnostic. The lockstep host is the deterministic
// choice for tests and simulations; the goroutine host is the natural
// choice for services.
package host

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/stator-io/stator/port"
)

var (
	// ErrHostStopped means Attach ran after Stop.
	ErrHostStopped = errors.New("host: stopped")

	// ErrPrioritySlot means the work's priority is out of range or
	// already attached.
	ErrPrioritySlot = errors.New("host: priority slot unavailable")
)

// maxSlots matches the engine's priority range.
const maxSlots = 64

// Lockstep is a cooperative host: nothing runs until the caller steps
// it, and each step dispatches exactly one event on the ready object
// with the highest priority. Posting is allowed from any goroutine;
// dispatching happens only on the goroutine that calls Step or
// RunUntilIdle, one object at a time, so execution is reproducible.
type Lockstep struct {
	crit port.CritSect

	mu      sync.Mutex
	works   [maxSlots + 1]port.Work
	ready   uint64
	stopped bool
}

// NewLockstep returns an empty lockstep host.
func NewLockstep() *Lockstep {
	return &Lockstep{crit: port.NewMutex()}
}

// CritSect returns the host's critical section.
func (h *Lockstep) CritSect() port.CritSect { return h.crit }

// Preemptive reports false: no attached object may block.
func (h *Lockstep) Preemptive() bool { return false }

// Attach claims w's priority slot and marks it ready once, so events
// queued before the attach are picked up by the first step.
func (h *Lockstep) Attach(w port.Work) (port.Task, error) {
	p := w.Priority()
	if p == 0 || p > maxSlots {
		return nil, fmt.Errorf("%w: priority %d outside 1..%d", ErrPrioritySlot, p, maxSlots)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrHostStopped
	}
	if h.works[p] != nil {
		return nil, fmt.Errorf("%w: priority %d already attached", ErrPrioritySlot, p)
	}
	h.works[p] = w
	bit := uint64(1) << (p - 1)
	h.ready |= bit
	return &lockstepTask{h: h, bit: bit}, nil
}

// Stop marks the host stopped. Attach and stepping refuse afterwards.
func (h *Lockstep) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.ready = 0
	h.mu.Unlock()
	return nil
}

// Step dispatches one event on the highest-priority ready object. It
// reports false when no object has work (or the host is stopped).
func (h *Lockstep) Step() bool {
	for {
		h.mu.Lock()
		if h.stopped || h.ready == 0 {
			h.mu.Unlock()
			return false
		}
		i := bits.Len64(h.ready) - 1
		h.ready &^= 1 << uint(i)
		w := h.works[i+1]
		h.mu.Unlock()

		if w.StepOne() {
			// The queue may hold more; keep the object ready and let
			// the next step re-probe it.
			h.wake(1 << uint(i))
			return true
		}
	}
}

// RunUntilIdle steps until no object is ready and returns the number
// of events dispatched. With objects that post to each other this runs
// the whole cascade triggered by whatever was queued beforehand.
func (h *Lockstep) RunUntilIdle() int {
	n := 0
	for h.Step() {
		n++
	}
	return n
}

func (h *Lockstep) wake(bit uint64) {
	h.mu.Lock()
	if !h.stopped {
		h.ready |= bit
	}
	h.mu.Unlock()
}

// lockstepTask marks its object ready; the dispatch happens on the
// stepping goroutine, so Wait has nothing to block on.
type lockstepTask struct {
	h   *Lockstep
	bit uint64
}

func (t *lockstepTask) Notify()    { t.h.wake(t.bit) }
func (t *lockstepTask) NotifyISR() { t.h.wake(t.bit) }
func (t *lockstepTask) Wait() bool { return false }
