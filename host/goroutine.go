package host

import (
	"fmt"
	"sync"

	"github.com/stator-io/stator/port"
)

// Goroutine runs each attached object on its own goroutine, the
// analog of one task per active object on an RTOS. The Go scheduler
// preempts freely; run-to-completion still holds per object because
// only the object's goroutine pops its queue.
type Goroutine struct {
	crit port.CritSect
	done chan struct{}

	mu      sync.Mutex
	used    map[uint8]bool
	stopped bool

	wg sync.WaitGroup
}

// NewGoroutine returns an empty goroutine host.
func NewGoroutine() *Goroutine {
	return &Goroutine{
		crit: port.NewMutex(),
		done: make(chan struct{}),
		used: make(map[uint8]bool),
	}
}

// CritSect returns the host's critical section.
func (h *Goroutine) CritSect() port.CritSect { return h.crit }

// Preemptive reports true: attached objects and producers may block.
func (h *Goroutine) Preemptive() bool { return true }

// Attach spawns w's goroutine. The loop drains the queue, then sleeps
// until notified; it exits when the host stops.
func (h *Goroutine) Attach(w port.Work) (port.Task, error) {
	p := w.Priority()
	if p == 0 || p > maxSlots {
		return nil, fmt.Errorf("%w: priority %d outside 1..%d", ErrPrioritySlot, p, maxSlots)
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, ErrHostStopped
	}
	if h.used[p] {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: priority %d already attached", ErrPrioritySlot, p)
	}
	h.used[p] = true
	h.mu.Unlock()

	t := &goroutineTask{
		signal: make(chan struct{}, 1),
		done:   h.done,
	}
	h.wg.Add(1)
	go h.run(w, t)
	return t, nil
}

func (h *Goroutine) run(w port.Work, t *goroutineTask) {
	defer h.wg.Done()
	for {
		for w.StepOne() {
		}
		if !t.Wait() {
			return
		}
	}
}

// Stop releases every waiting task and blocks until all of their
// goroutines have exited. Safe to call more than once.
func (h *Goroutine) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.done)
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

// goroutineTask wakes its object through a coalescing one-slot
// channel: a token means "the queue may have work", so any number of
// posts between two wakeups collapse into one.
type goroutineTask struct {
	signal chan struct{}
	done   chan struct{}
}

func (t *goroutineTask) Notify() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *goroutineTask) NotifyISR() { t.Notify() }

func (t *goroutineTask) Wait() bool {
	// A stopping host wins over pending work so shutdown cannot be
	// outrun by a fast producer.
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case <-t.signal:
		return true
	case <-t.done:
		return false
	}
}
