package bootstrap

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory builds a value on first resolve. It receives the container so
// it can resolve its own dependencies.
type Factory func(c *Container) (any, error)

// Container is a small dependency registry: instances bound up front
// plus factories run lazily and cached. It exists so user services can
// reach the shared pieces of an application without package globals.
type Container struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]any
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{
		factories: make(map[string]Factory),
		instances: make(map[string]any),
	}
}

// Register binds a factory to name. The factory runs once, on the
// first Resolve of the name, and its result is cached.
func (c *Container) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("%w: empty name or nil factory", ErrBadRegistration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateService, name)
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance binds an existing value to name.
func (c *Container) RegisterInstance(name string, instance any) error {
	if name == "" || instance == nil {
		return fmt.Errorf("%w: empty name or nil instance", ErrBadRegistration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateService, name)
	}
	c.instances[name] = instance
	return nil
}

// Resolve returns the value bound to name, running and caching its
// factory if one is registered. The lock is dropped while the factory
// runs so factories may resolve their own dependencies; if two
// goroutines race on the same name the first cached result wins.
func (c *Container) Resolve(name string) (any, error) {
	c.mu.Lock()
	if inst, ok := c.instances[name]; ok {
		c.mu.Unlock()
		return inst, nil
	}
	factory, ok := c.factories[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}

	inst, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("build %q: %w", name, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", ErrBadRegistration, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.instances[name]; ok {
		return cached, nil
	}
	c.instances[name] = inst
	return inst, nil
}

// ResolveAs resolves name and stores the value through target, which
// must be a non-nil pointer to a type the value is assignable to.
func (c *Container) ResolveAs(name string, target any) error {
	inst, err := c.Resolve(name)
	if err != nil {
		return err
	}
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Pointer || tv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", ErrWrongType)
	}
	iv := reflect.ValueOf(inst)
	if !iv.Type().AssignableTo(tv.Elem().Type()) {
		return fmt.Errorf("%w: %q holds %s, target wants %s",
			ErrWrongType, name, iv.Type(), tv.Elem().Type())
	}
	tv.Elem().Set(iv)
	return nil
}

// Has reports whether name is bound to an instance or a factory.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound(name)
}

// Names returns every bound name, sorted.
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.factories)+len(c.instances))
	for name := range c.instances {
		names = append(names, name)
	}
	for name := range c.factories {
		if _, ok := c.instances[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// bound reports whether name is taken. Caller holds c.mu.
func (c *Container) bound(name string) bool {
	if _, ok := c.instances[name]; ok {
		return true
	}
	_, ok := c.factories[name]
	return ok
}
