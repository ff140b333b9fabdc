package hsm

import (
	"fmt"
	"log/slog"

	"github.com/stator-io/stator/event"
)

// Reserved pseudo-events delivered to handlers during transitions.
var (
	entryEvt = event.Static(event.SigEntry)
	exitEvt  = event.Static(event.SigExit)
	initEvt  = event.Static(event.SigInit)
)

// Instance is the non-generic view of a machine, held by active
// objects and diagnostics.
type Instance interface {
	// Init runs the initial transition and settles on a leaf. Must be
	// called exactly once, before any Dispatch.
	Init(e *event.Event)

	// Dispatch feeds one event through the machine, run to completion.
	Dispatch(e *event.Event)

	// State returns the current state's name, empty before Init.
	State() string
}

// Options configures a Machine.
type Options struct {
	// Name identifies the machine in logs. Defaults to the owner's
	// type name.
	Name string

	// Logger receives ignored-event records at debug level. Nil means
	// slog.Default().
	Logger *slog.Logger

	// OnFailure handles fatal dispatch conditions. It is expected not
	// to return; if it does, the dispatch is abandoned. Defaults to
	// panicking with the error.
	OnFailure func(error)
}

// Machine drives one owner through a static state tree.
type Machine[T any] struct {
	name    string
	owner   *T
	initial Handler[T]
	current *State[T]
	log     *slog.Logger
	fail    func(error)
	busy    bool
}

// New binds a machine to its owner and initial pseudostate handler.
// opts may be nil. The machine is inert until Init.
func New[T any](owner *T, initial Handler[T], opts *Options) *Machine[T] {
	if opts == nil {
		opts = &Options{}
	}
	m := &Machine[T]{
		name:    opts.Name,
		owner:   owner,
		initial: initial,
		log:     opts.Logger,
		fail:    opts.OnFailure,
	}
	if m.name == "" {
		m.name = fmt.Sprintf("%T", owner)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.fail == nil {
		m.fail = func(err error) { panic(err) }
	}
	return m
}

// Current returns the current state, nil before Init.
func (m *Machine[T]) Current() *State[T] { return m.current }

// State returns the current state's name, empty before Init.
func (m *Machine[T]) State() string {
	if m.current == nil {
		return ""
	}
	return m.current.name
}

// Init executes the initial pseudostate handler with e, enters the
// requested target from the root down, then follows nested initial
// transitions until the machine settles.
func (m *Machine[T]) Init(e *event.Event) {
	if m.current != nil {
		m.fail(fmt.Errorf("%w: %q", ErrAlreadyInitialized, m.name))
		return
	}
	out := m.initial(m.owner, e)
	if out.kind != outcomeTran {
		m.fail(fmt.Errorf("%w: %q", ErrInitialTransition, m.name))
		return
	}
	tgt, ok := out.target.(*State[T])
	if !ok || tgt == nil {
		m.fail(fmt.Errorf("%w: %q", ErrForeignTarget, m.name))
		return
	}
	if !m.enterPath(nil, tgt) {
		return
	}
	m.current = m.drill(tgt)
}

// Dispatch walks up from the current state until a handler takes the
// event, then executes any requested transition: exit actions from the
// current leaf to the transition source, exits up to the least common
// ancestor, entries down to the target, and nested initial transitions
// until the machine settles again. Events no ancestor handles are
// silently ignored.
func (m *Machine[T]) Dispatch(e *event.Event) {
	if m.current == nil {
		m.fail(fmt.Errorf("%w: %q", ErrNotInitialized, m.name))
		return
	}
	if m.busy {
		m.fail(fmt.Errorf("%w: %q", ErrReentrantDispatch, m.name))
		return
	}
	m.busy = true
	defer func() { m.busy = false }()

	var src *State[T]
	var out Outcome
	for s := m.current; s != nil; s = s.parent {
		out = s.handler(m.owner, e)
		if out.kind != outcomeUnhandled {
			src = s
			break
		}
	}
	if src == nil {
		m.log.Debug("event ignored", "machine", m.name, "state", m.current.name, "signal", e.Sig())
		return
	}
	if out.kind == outcomeHandled {
		return
	}
	tgt, ok := out.target.(*State[T])
	if !ok || tgt == nil {
		m.fail(fmt.Errorf("%w: %q in %q", ErrForeignTarget, src.name, m.name))
		return
	}

	// The handler may sit above the current leaf; leave the nested
	// states before taking the transition from src.
	for s := m.current; s != src; s = s.parent {
		m.exit(s)
	}
	m.current = src

	if src == tgt {
		// Self-transition: full exit and re-entry, never skipped.
		m.exit(src)
		m.enter(src)
	} else {
		// A nil ancestor is the implicit top above all root states;
		// the exit walk runs off the source's root and stops there.
		anc := lca(src, tgt)
		for s := src; s != anc; s = s.parent {
			m.exit(s)
		}
		if !m.enterPath(anc, tgt) {
			return
		}
		m.current = tgt
	}
	m.current = m.drill(m.current)
}

// enterPath enters every state from just below top down to tgt,
// outermost first. A nil top enters from tgt's root.
func (m *Machine[T]) enterPath(top, tgt *State[T]) bool {
	var path [MaxDepth]*State[T]
	n := 0
	for s := tgt; s != top; s = s.parent {
		if s == nil {
			m.fail(fmt.Errorf("%w: %q unreachable from its ancestor", ErrBrokenTree, tgt.name))
			return false
		}
		if n == MaxDepth {
			m.fail(fmt.Errorf("%w: entering %q", ErrDepth, tgt.name))
			return false
		}
		path[n] = s
		n++
	}
	for i := n - 1; i >= 0; i-- {
		m.enter(path[i])
	}
	return true
}

// drill follows initial transitions from s until a state declares
// none, entering each nested target on the way.
func (m *Machine[T]) drill(s *State[T]) *State[T] {
	for {
		out := s.handler(m.owner, initEvt)
		if out.kind != outcomeTran {
			return s
		}
		sub, ok := out.target.(*State[T])
		if !ok || sub == nil || !properDescendant(sub, s) {
			m.fail(fmt.Errorf("%w: %q", ErrInitTarget, s.name))
			return s
		}
		if !m.enterPath(s, sub) {
			return s
		}
		s = sub
	}
}

func (m *Machine[T]) enter(s *State[T]) { s.handler(m.owner, entryEvt) }

func (m *Machine[T]) exit(s *State[T]) { s.handler(m.owner, exitEvt) }
