package port

import "sync"

// Mutex is the default CritSect: both flavors share one sync.Mutex.
// Hosts without a way to tell task and interrupt callers apart use it
// directly; the flavor split stays visible at call sites.
type Mutex struct {
	mu sync.Mutex
}

// NewMutex returns a ready-to-use Mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

func (m *Mutex) Enter() { m.mu.Lock() }

func (m *Mutex) Exit() { m.mu.Unlock() }

func (m *Mutex) EnterISR() { m.mu.Lock() }

func (m *Mutex) ExitISR() { m.mu.Unlock() }
