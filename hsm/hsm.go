// Package hsm implements hierarchical state machines: states form a
// tree under an implicit top, events unhandled by the current state
// delegate to its ancestors, and transitions run the exact exit/entry
// sequence determined by the least common ancestor of source and
// target. A flat machine is the degenerate case where every state is
// a root and the implicit top is the only shared ancestor.
//
// States are static per owner type: a tree of State[T] values is built
// once, at package init or object construction, and shared by every
// machine over the same T. Handlers are plain functions (usually
// method expressions on *T) and are the single extension point: entry,
// exit and initial transitions arrive as the reserved signals
// event.SigEntry, event.SigExit and event.SigInit rather than separate
// callback slots. Guards are nothing more than handler logic choosing
// between Handled, Unhandled and Tran.
//
// A machine is owned by exactly one active object and is never
// dispatched concurrently; package core enforces that with its
// one-task-per-object model. Standalone machines inherit the same
// contract: Dispatch must not be re-entered.
package hsm

import (
	"fmt"

	"github.com/stator-io/stator/event"
)

// MaxDepth bounds state nesting from a root state to its deepest leaf.
const MaxDepth = 8

// Node is an opaque reference to a state, usable as a transition
// target. Only State[T] values implement it.
type Node interface {
	stateName() string
}

type outcomeKind uint8

const (
	outcomeUnhandled outcomeKind = iota
	outcomeHandled
	outcomeTran
)

// Outcome is a handler's disposition of one event.
type Outcome struct {
	kind   outcomeKind
	target Node
}

// Unhandled delegates the event to the parent state. Reaching the root
// without a handler is the normal "ignored" result, not an error.
func Unhandled() Outcome {
	return Outcome{}
}

// Handled consumes the event with no state change.
func Handled() Outcome {
	return Outcome{kind: outcomeHandled}
}

// Tran consumes the event and requests a transition to target. From an
// initial-transition handler the target must be a proper descendant of
// the handling state.
func Tran(target Node) Outcome {
	return Outcome{kind: outcomeTran, target: target}
}

// Handler reacts to one event on behalf of owner. The reserved signals
// SigEntry, SigExit and SigInit mark entry actions, exit actions and
// initial transitions; outcomes of entry and exit deliveries are
// ignored, so handlers must not request transitions from them.
type Handler[T any] func(owner *T, e *event.Event) Outcome

// State is one node of a static state tree over owner type T.
type State[T any] struct {
	name    string
	parent  *State[T]
	handler Handler[T]
	depth   int
}

// NewState builds a state under parent (nil for a root state). Trees
// are assembled at startup; exceeding MaxDepth panics immediately
// rather than surfacing later in a dispatch.
func NewState[T any](name string, parent *State[T], h Handler[T]) *State[T] {
	depth := 0
	if parent != nil {
		depth = parent.depth + 1
	}
	if depth >= MaxDepth {
		panic(fmt.Sprintf("hsm: state %q nests deeper than %d", name, MaxDepth))
	}
	if h == nil {
		panic(fmt.Sprintf("hsm: state %q has no handler", name))
	}
	return &State[T]{name: name, parent: parent, handler: h, depth: depth}
}

// Name returns the state's diagnostic name.
func (s *State[T]) Name() string { return s.name }

// Parent returns the parent state, nil at a root.
func (s *State[T]) Parent() *State[T] { return s.parent }

func (s *State[T]) stateName() string { return s.name }

// lca returns the least common ancestor of a and b, or nil when their
// only shared ancestor is the implicit top.
func lca[T any](a, b *State[T]) *State[T] {
	for a != b {
		if a == nil || b == nil {
			return nil
		}
		switch {
		case a.depth > b.depth:
			a = a.parent
		case b.depth > a.depth:
			b = b.parent
		default:
			a, b = a.parent, b.parent
		}
	}
	return a
}

// properDescendant reports whether sub sits strictly below of.
func properDescendant[T any](sub, of *State[T]) bool {
	if sub == of {
		return false
	}
	for x := sub; x != nil; x = x.parent {
		if x == of {
			return true
		}
	}
	return false
}
