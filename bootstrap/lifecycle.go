package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultServiceTimeout bounds each service's Start and Stop call.
	DefaultServiceTimeout = 30 * time.Second

	// healthCheckTimeout bounds each service's Health call.
	healthCheckTimeout = 5 * time.Second
)

// Lifecycle starts and stops a set of named services in dependency
// order. The start order is a deterministic topological sort of the
// dependency graph, ties broken by name; Stop walks the services that
// actually started, in reverse.
type Lifecycle struct {
	log *slog.Logger

	mu       sync.Mutex
	timeout  time.Duration
	services map[string]Service
	deps     map[string][]string
	order    []string
	started  bool
}

// NewLifecycle returns an empty lifecycle. A nil log means
// slog.Default().
func NewLifecycle(log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		log:      log,
		timeout:  DefaultServiceTimeout,
		services: make(map[string]Service),
		deps:     make(map[string][]string),
	}
}

// SetTimeout bounds each service's Start and Stop call. Call before
// Start.
func (l *Lifecycle) SetTimeout(d time.Duration) *Lifecycle {
	l.mu.Lock()
	l.timeout = d
	l.mu.Unlock()
	return l
}

// Register adds svc under name, to start after the named dependencies.
// Dependencies may be registered in any order; they are checked when
// Start computes the order. Registration closes once Start has run.
func (l *Lifecycle) Register(name string, svc Service, deps ...string) error {
	if name == "" || svc == nil {
		return fmt.Errorf("%w: empty name or nil service", ErrBadRegistration)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("%w: register %q", ErrAlreadyStarted, name)
	}
	if _, ok := l.services[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateService, name)
	}
	l.services[name] = svc
	l.deps[name] = slices.Clone(deps)
	return nil
}

// Start brings every registered service up in dependency order. If a
// service fails to start, the ones already started are stopped again
// in reverse and the failure is returned; the lifecycle may then be
// started again.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return ErrAlreadyStarted
	}
	order, err := l.startOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := l.run(ctx, l.services[name].Start); err != nil {
			l.log.Error("service failed to start", "service", name, "error", err)
			l.stopStarted(ctx)
			return fmt.Errorf("start %q: %w", name, err)
		}
		l.order = append(l.order, name)
		l.log.Info("service started", "service", name)
	}
	l.started = true
	return nil
}

// Stop brings the started services down in reverse start order. Every
// service gets its Stop call even after a failure; the first error is
// returned once the walk completes. Stopping a stopped lifecycle is a
// no-op.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil
	}
	err := l.stopStarted(ctx)
	l.started = false
	return err
}

// stopStarted walks l.order backwards stopping each service. Caller
// holds l.mu.
func (l *Lifecycle) stopStarted(ctx context.Context) error {
	var firstErr error
	for i := len(l.order) - 1; i >= 0; i-- {
		name := l.order[i]
		if err := l.run(ctx, l.services[name].Stop); err != nil {
			l.log.Error("service failed to stop", "service", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %q: %w", name, err)
			}
			continue
		}
		l.log.Info("service stopped", "service", name)
	}
	l.order = nil
	return firstErr
}

// run invokes op under the configured per-operation timeout. Caller
// holds l.mu.
func (l *Lifecycle) run(ctx context.Context, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return op(opCtx)
}

// Health polls every registered service. A service whose Health call
// returns an error reports HealthUnhealthy with the error text.
func (l *Lifecycle) Health(ctx context.Context) map[string]HealthStatus {
	l.mu.Lock()
	services := make(map[string]Service, len(l.services))
	for name, svc := range l.services {
		services[name] = svc
	}
	l.mu.Unlock()

	out := make(map[string]HealthStatus, len(services))
	for name, svc := range services {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		status, err := svc.Health(checkCtx)
		cancel()
		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		out[name] = status
	}
	return out
}

// Services returns the registered service names, sorted.
func (l *Lifecycle) Services() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.services))
	for name := range l.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Started reports whether Start has completed.
func (l *Lifecycle) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// startOrder computes the topological start order: dependencies first,
// ties broken by name so the order is stable across runs. Caller holds
// l.mu.
func (l *Lifecycle) startOrder() ([]string, error) {
	indeg := make(map[string]int, len(l.services))
	dependents := make(map[string][]string, len(l.services))
	for name := range l.services {
		indeg[name] = 0
	}
	for name, deps := range l.deps {
		for _, dep := range deps {
			if _, ok := l.services[dep]; !ok {
				return nil, fmt.Errorf("%w: %q needs %q", ErrUnknownDependency, name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			indeg[name]++
		}
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(l.services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dependent := range dependents[name] {
			if indeg[dependent]--; indeg[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}
	if len(order) != len(l.services) {
		return nil, ErrDependencyCycle
	}
	return order, nil
}
