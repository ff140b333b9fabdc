package core

import (
	"errors"
	"fmt"
)

// Error codes carried by FrameworkError, for fault classification
// without string matching.
const (
	// CodePriorityRange marks a priority outside 1..MaxActive.
	CodePriorityRange = "PRIORITY_RANGE"

	// CodePriorityInUse marks a Start with an already-taken priority.
	CodePriorityInUse = "PRIORITY_IN_USE"

	// CodeSignalRange marks a signal outside the subscription registry.
	CodeSignalRange = "SIGNAL_RANGE"

	// CodeRuntimeState marks an operation against a stopped runtime.
	CodeRuntimeState = "RUNTIME_STATE"

	// CodeBlockingPost marks a blocking post on a cooperative host.
	CodeBlockingPost = "BLOCKING_POST"

	// CodeTickRate marks a tick rate outside 0..MaxTickRate-1.
	CodeTickRate = "TICK_RATE"

	// CodeTimeEvent marks time-event misuse: arming an armed event or
	// arming with a zero tick count.
	CodeTimeEvent = "TIME_EVENT"

	// CodeStart marks a Start rejected before the object went live:
	// missing machine, missing queue storage, host attach failure.
	CodeStart = "START"
)

// FrameworkError is the engine's structured error: a code for
// classification, the failing operation, and the object it concerned.
// Fatal instances reach the failure hook; the triggering call also
// returns them where it has an error result.
type FrameworkError struct {
	Code   string
	Op     string
	Object string
	Err    error
}

func (e *FrameworkError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("core: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("core: %s %q: %s: %v", e.Op, e.Object, e.Code, e.Err)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// errf builds a FrameworkError with a formatted cause.
func errf(code, op, object, format string, args ...any) *FrameworkError {
	return &FrameworkError{Code: code, Op: op, Object: object, Err: fmt.Errorf(format, args...)}
}

// AsFramework extracts the FrameworkError from err's chain.
func AsFramework(err error) (*FrameworkError, bool) {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsCode reports whether err carries the given framework error code.
func IsCode(err error, code string) bool {
	fe, ok := AsFramework(err)
	return ok && fe.Code == code
}
