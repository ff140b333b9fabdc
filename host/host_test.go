package host

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stator-io/stator/port"
)

type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *stepLog) add(s string) {
	l.mu.Lock()
	l.steps = append(l.steps, s)
	l.mu.Unlock()
}

func (l *stepLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

// fakeWork counts pending steps instead of carrying a real queue.
type fakeWork struct {
	name string
	prio uint8
	log  *stepLog

	mu      sync.Mutex
	pending int
	then    func() // runs after a successful step
}

func (w *fakeWork) Name() string    { return w.name }
func (w *fakeWork) Priority() uint8 { return w.prio }

func (w *fakeWork) StepOne() bool {
	w.mu.Lock()
	if w.pending == 0 {
		w.mu.Unlock()
		return false
	}
	w.pending--
	then := w.then
	w.mu.Unlock()
	w.log.add(w.name)
	if then != nil {
		then()
	}
	return true
}

func (w *fakeWork) give(n int, t port.Task) {
	w.mu.Lock()
	w.pending += n
	w.mu.Unlock()
	if t != nil {
		t.Notify()
	}
}

func (w *fakeWork) left() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

func TestLockstepDispatchesByPriority(t *testing.T) {
	h := NewLockstep()
	log := &stepLog{}
	lo := &fakeWork{name: "lo", prio: 1, log: log}
	hi := &fakeWork{name: "hi", prio: 5, log: log}

	loTask, err := h.Attach(lo)
	require.NoError(t, err)
	hiTask, err := h.Attach(hi)
	require.NoError(t, err)

	lo.give(2, loTask)
	hi.give(2, hiTask)

	assert.Equal(t, 4, h.RunUntilIdle())
	assert.Equal(t, []string{"hi", "hi", "lo", "lo"}, log.snapshot())
	assert.False(t, h.Step(), "idle host must not step")
}

func TestLockstepRunsCascades(t *testing.T) {
	h := NewLockstep()
	log := &stepLog{}
	a := &fakeWork{name: "a", prio: 2, log: log}
	b := &fakeWork{name: "b", prio: 3, log: log}

	aTask, err := h.Attach(a)
	require.NoError(t, err)
	bTask, err := h.Attach(b)
	require.NoError(t, err)

	// Stepping a produces work for the higher-priority b, which must
	// run before a gets a second turn.
	a.then = func() { b.give(1, bTask) }
	a.give(2, aTask)

	assert.Equal(t, 4, h.RunUntilIdle())
	assert.Equal(t, []string{"a", "b", "a", "b"}, log.snapshot())
}

func TestLockstepAttachValidation(t *testing.T) {
	h := NewLockstep()
	log := &stepLog{}

	_, err := h.Attach(&fakeWork{name: "zero", prio: 0, log: log})
	assert.ErrorIs(t, err, ErrPrioritySlot)

	_, err = h.Attach(&fakeWork{name: "w1", prio: 7, log: log})
	require.NoError(t, err)
	_, err = h.Attach(&fakeWork{name: "w2", prio: 7, log: log})
	assert.ErrorIs(t, err, ErrPrioritySlot)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop(), "stop must be idempotent")
	_, err = h.Attach(&fakeWork{name: "late", prio: 9, log: log})
	assert.ErrorIs(t, err, ErrHostStopped)
	assert.False(t, h.Step())
}

func TestLockstepIsCooperative(t *testing.T) {
	assert.False(t, NewLockstep().Preemptive())
	assert.NotNil(t, NewLockstep().CritSect())
}

func TestGoroutineRunsNotifiedWork(t *testing.T) {
	h := NewGoroutine()
	defer h.Stop()

	log := &stepLog{}
	w := &fakeWork{name: "w", prio: 1, log: log}
	task, err := h.Attach(w)
	require.NoError(t, err)

	w.give(3, task)

	require.Eventually(t, func() bool { return w.left() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"w", "w", "w"}, log.snapshot())
}

func TestGoroutineCoalescesNotifications(t *testing.T) {
	h := NewGoroutine()
	defer h.Stop()

	log := &stepLog{}
	w := &fakeWork{name: "w", prio: 1, log: log}
	task, err := h.Attach(w)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		w.give(1, task)
	}

	require.Eventually(t, func() bool { return w.left() == 0 }, time.Second, time.Millisecond)
	assert.Len(t, log.snapshot(), 100)
}

func TestGoroutineStopJoinsTasks(t *testing.T) {
	h := NewGoroutine()
	log := &stepLog{}

	for p := uint8(1); p <= 4; p++ {
		_, err := h.Attach(&fakeWork{name: "w", prio: p, log: log})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		_ = h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not join the task goroutines")
	}

	require.NoError(t, h.Stop(), "stop must be idempotent")
	_, err := h.Attach(&fakeWork{name: "late", prio: 9, log: log})
	assert.ErrorIs(t, err, ErrHostStopped)
}

func TestGoroutineAttachValidation(t *testing.T) {
	h := NewGoroutine()
	defer h.Stop()

	log := &stepLog{}
	_, err := h.Attach(&fakeWork{name: "zero", prio: 0, log: log})
	assert.ErrorIs(t, err, ErrPrioritySlot)

	_, err = h.Attach(&fakeWork{name: "w1", prio: 3, log: log})
	require.NoError(t, err)
	_, err = h.Attach(&fakeWork{name: "w2", prio: 3, log: log})
	assert.ErrorIs(t, err, ErrPrioritySlot)

	assert.True(t, h.Preemptive())
}
