package bootstrap

import "errors"

var (
	// ErrBadRegistration rejects a registration with an empty name or a
	// nil service, factory or instance.
	ErrBadRegistration = errors.New("bootstrap: bad registration")

	// ErrDuplicateService rejects a second registration under one name.
	ErrDuplicateService = errors.New("bootstrap: service already registered")

	// ErrNotRegistered reports a lookup of a name nothing is bound to.
	ErrNotRegistered = errors.New("bootstrap: service not registered")

	// ErrWrongType reports a ResolveAs target the resolved value is not
	// assignable to.
	ErrWrongType = errors.New("bootstrap: service type mismatch")

	// ErrUnknownDependency reports a service depending on a name that
	// was never registered.
	ErrUnknownDependency = errors.New("bootstrap: unknown dependency")

	// ErrDependencyCycle reports a cycle in the service dependency
	// graph.
	ErrDependencyCycle = errors.New("bootstrap: dependency cycle")

	// ErrAlreadyStarted rejects registration on, or a second start of,
	// a started lifecycle.
	ErrAlreadyStarted = errors.New("bootstrap: lifecycle already started")

	// ErrAppRunning rejects a second Run of a running application.
	ErrAppRunning = errors.New("bootstrap: application already running")
)
