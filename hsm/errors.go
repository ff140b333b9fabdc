package hsm

import "errors"

// Fatal conditions passed to the machine's failure hook.
var (
	// ErrNotInitialized means Dispatch ran before Init.
	ErrNotInitialized = errors.New("hsm: machine not initialized")

	// ErrAlreadyInitialized means Init ran twice.
	ErrAlreadyInitialized = errors.New("hsm: machine already initialized")

	// ErrInitialTransition means the initial pseudostate handler did
	// not request a transition.
	ErrInitialTransition = errors.New("hsm: initial pseudostate must transition")

	// ErrReentrantDispatch means a handler dispatched into its own
	// machine.
	ErrReentrantDispatch = errors.New("hsm: dispatch re-entered")

	// ErrForeignTarget means a transition targeted a state of a
	// different machine type.
	ErrForeignTarget = errors.New("hsm: transition target belongs to another machine")

	// ErrBrokenTree means an entry path could not be traced from a
	// transition's ancestor down to its target.
	ErrBrokenTree = errors.New("hsm: inconsistent state tree")

	// ErrInitTarget means an initial transition targeted a state that
	// is not a proper descendant of the handling state.
	ErrInitTarget = errors.New("hsm: initial transition target must nest inside its state")

	// ErrDepth means a transition path exceeded MaxDepth.
	ErrDepth = errors.New("hsm: transition path exceeds MaxDepth")
)
