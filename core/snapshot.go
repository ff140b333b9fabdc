package core

import "github.com/stator-io/stator/event"

// ObjectStatus is one active object's diagnostic view.
type ObjectStatus struct {
	Name          string `json:"name"`
	Priority      uint8  `json:"priority"`
	State         string `json:"state"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	QueueMinFree  int    `json:"queue_min_free"`
	Posted        uint64 `json:"posted"`
	Dropped       uint64 `json:"dropped"`
	Dispatched    uint64 `json:"dispatched"`
}

// Snapshot is a point-in-time copy of the runtime's diagnostics. The
// totals aggregate the per-object counters; min-free figures are the
// sizing headroom the system has left at its worst moment so far.
type Snapshot struct {
	Running         bool              `json:"running"`
	Objects         []ObjectStatus    `json:"objects"`
	Pools           []event.PoolStats `json:"pools"`
	EventsAllocated uint64            `json:"events_allocated"`
	EventsRecycled  uint64            `json:"events_recycled"`
	Published       uint64            `json:"published"`
	Posted          uint64            `json:"posted"`
	Dropped         uint64            `json:"dropped"`
	Dispatched      uint64            `json:"dispatched"`
	Ticks           []uint64          `json:"ticks"`
}

// Snapshot copies the runtime's diagnostics. The object table is read
// under the critical section; the per-object figures are then gathered
// outside it, so a snapshot is internally consistent per object but
// not across objects. Objects are listed in ascending priority.
func (rt *Runtime) Snapshot() Snapshot {
	var objs [MaxActive]*Active
	n := 0
	rt.crit.Enter()
	snap := Snapshot{
		Running:   !rt.stopped,
		Published: rt.published,
		Ticks:     make([]uint64, MaxTickRate),
	}
	copy(snap.Ticks, rt.ticks[:])
	for p := 1; p <= MaxActive; p++ {
		if a := rt.actives[p]; a != nil {
			objs[n] = a
			n++
		}
	}
	rt.crit.Exit()

	snap.Pools = rt.pools.Stats()
	snap.EventsAllocated, snap.EventsRecycled = rt.pools.Counters()
	snap.Objects = make([]ObjectStatus, 0, n)
	for i := 0; i < n; i++ {
		a := objs[i]
		st := ObjectStatus{
			Name:          a.name,
			Priority:      a.prio,
			State:         a.State(),
			QueueDepth:    a.q.Depth(),
			QueueCapacity: a.q.Capacity(),
			QueueMinFree:  a.q.MinFree(),
			Posted:        a.q.Posted(),
			Dropped:       a.q.Dropped(),
			Dispatched:    a.dispatched.Load(),
		}
		snap.Objects = append(snap.Objects, st)
		snap.Posted += st.Posted
		snap.Dropped += st.Dropped
		snap.Dispatched += st.Dispatched
	}
	return snap
}
