package event

import (
	"fmt"
	"log/slog"

	"github.com/stator-io/stator/port"
)

// MaxPools bounds the number of pools in one PoolSet.
const MaxPools = 8

// pool is one fixed-block allocator. All fields are guarded by the
// owning PoolSet's critical section.
type pool struct {
	blockSize int
	capacity  int
	nFree     int
	minFree   int
	freeList  []int32
	headers   []Event
	storage   []byte
}

func (p *pool) take(size int, sig Signal, id uint8) *Event {
	p.nFree--
	if p.nFree < p.minFree {
		p.minFree = p.nFree
	}
	slot := p.freeList[p.nFree]
	off := int(slot) * p.blockSize
	e := &p.headers[slot]
	e.sig = sig
	e.poolID = id
	e.slot = slot
	e.refCnt = 1
	e.data = p.storage[off : off+size : off+p.blockSize]
	return e
}

func (p *pool) put(e *Event) {
	e.data = nil
	p.freeList[p.nFree] = e.slot
	p.nFree++
}

// PoolStats is a point-in-time copy of one pool's capacity figures.
type PoolStats struct {
	BlockSize int `json:"block_size"`
	Capacity  int `json:"capacity"`
	Free      int `json:"free"`
	MinFree   int `json:"min_free"`
}

// PoolSetOptions configures a PoolSet.
type PoolSetOptions struct {
	// OnFailure handles fatal conditions: exhaustion, registration
	// order violations, over-release. It is expected not to return; if
	// it does, the failing operation returns its zero value and makes
	// no state change. Defaults to panicking with the error.
	OnFailure func(error)

	// Logger receives registration records. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultPoolSetOptions returns the default PoolSet options.
func DefaultPoolSetOptions() *PoolSetOptions {
	return &PoolSetOptions{}
}

// PoolSet manages up to MaxPools fixed-block pools registered in
// strictly increasing block-size order. Allocation picks the smallest
// registered block size that fits the requested payload, spilling to
// the next larger pool when the best fit is empty.
//
// Every structure sharing events (queues, registries) must share the
// PoolSet's critical section; the engine wires this automatically.
type PoolSet struct {
	crit port.CritSect
	fail func(error)
	log  *slog.Logger

	nPools int
	pools  [MaxPools]pool

	allocated uint64
	recycled  uint64
}

// NewPoolSet creates an empty PoolSet over the given critical section.
// opts may be nil.
func NewPoolSet(cs port.CritSect, opts *PoolSetOptions) *PoolSet {
	if opts == nil {
		opts = DefaultPoolSetOptions()
	}
	ps := &PoolSet{
		crit: cs,
		fail: opts.OnFailure,
		log:  opts.Logger,
	}
	if ps.fail == nil {
		ps.fail = func(err error) { panic(err) }
	}
	if ps.log == nil {
		ps.log = slog.Default()
	}
	return ps
}

// Register adds a pool over the caller-provided block storage. The
// block count is len(storage)/blockSize. Pools must be registered in
// strictly increasing blockSize order before any allocation; violations
// are fatal.
func (ps *PoolSet) Register(storage []byte, blockSize int) {
	if blockSize <= 0 || len(storage) < blockSize {
		ps.fail(fmt.Errorf("%w: block size %d over %d bytes", ErrPoolStorage, blockSize, len(storage)))
		return
	}
	ps.crit.Enter()
	if ps.nPools == MaxPools {
		ps.crit.Exit()
		ps.fail(fmt.Errorf("%w: limit %d", ErrPoolLimit, MaxPools))
		return
	}
	if ps.nPools > 0 && blockSize <= ps.pools[ps.nPools-1].blockSize {
		prev := ps.pools[ps.nPools-1].blockSize
		ps.crit.Exit()
		ps.fail(fmt.Errorf("%w: %d after %d", ErrPoolOrder, blockSize, prev))
		return
	}
	count := len(storage) / blockSize
	p := &ps.pools[ps.nPools]
	p.blockSize = blockSize
	p.capacity = count
	p.nFree = count
	p.minFree = count
	p.freeList = make([]int32, count)
	p.headers = make([]Event, count)
	p.storage = storage
	for i := range p.freeList {
		p.freeList[i] = int32(i)
	}
	ps.nPools++
	ps.crit.Exit()
	ps.log.Debug("event pool registered", "block_size", blockSize, "capacity", count)
}

// New allocates an event with a payload of size bytes, stamped with
// sig and a reference count of 1. Exhaustion is fatal. Task context.
func (ps *PoolSet) New(size int, sig Signal) *Event {
	return ps.alloc(size, sig, false)
}

// NewFromISR is New for interrupt context. It never blocks beyond the
// bounded critical section.
func (ps *PoolSet) NewFromISR(size int, sig Signal) *Event {
	return ps.alloc(size, sig, true)
}

func (ps *PoolSet) alloc(size int, sig Signal, isr bool) *Event {
	ps.enter(isr)
	for i := 0; i < ps.nPools; i++ {
		p := &ps.pools[i]
		if p.blockSize < size || p.nFree == 0 {
			continue
		}
		e := p.take(size, sig, uint8(i+1))
		ps.allocated++
		ps.exit(isr)
		return e
	}
	ps.exit(isr)
	ps.fail(fmt.Errorf("%w: %d bytes for %v", ErrPoolExhausted, size, sig))
	return nil
}

// Retain adds a reference so the event can be posted to one more
// queue. Static events are untracked and unaffected. Task context.
func (ps *PoolSet) Retain(e *Event) {
	ps.retain(e, false)
}

// RetainFromISR is Retain for interrupt context.
func (ps *PoolSet) RetainFromISR(e *Event) {
	ps.retain(e, true)
}

func (ps *PoolSet) retain(e *Event, isr bool) {
	if e == nil || !e.Pooled() {
		return
	}
	ps.enter(isr)
	e.refCnt++
	ps.exit(isr)
}

// Release drops one reference; the last release returns the block to
// its pool's free list. Releasing a static or nil event is a no-op.
// Releasing a pooled event that holds no references is fatal.
func (ps *PoolSet) Release(e *Event) {
	ps.release(e, false)
}

// ReleaseFromISR is Release for interrupt context.
func (ps *PoolSet) ReleaseFromISR(e *Event) {
	ps.release(e, true)
}

func (ps *PoolSet) release(e *Event, isr bool) {
	if e == nil || !e.Pooled() {
		return
	}
	ps.enter(isr)
	switch {
	case e.refCnt > 1:
		e.refCnt--
		ps.exit(isr)
	case e.refCnt == 1:
		e.refCnt = 0
		ps.pools[e.poolID-1].put(e)
		ps.recycled++
		ps.exit(isr)
	default:
		sig := e.sig
		ps.exit(isr)
		ps.fail(fmt.Errorf("%w: %v", ErrOverrelease, sig))
	}
}

// Stats copies every pool's capacity figures, smallest block first.
func (ps *PoolSet) Stats() []PoolStats {
	ps.crit.Enter()
	out := make([]PoolStats, ps.nPools)
	for i := 0; i < ps.nPools; i++ {
		p := &ps.pools[i]
		out[i] = PoolStats{
			BlockSize: p.blockSize,
			Capacity:  p.capacity,
			Free:      p.nFree,
			MinFree:   p.minFree,
		}
	}
	ps.crit.Exit()
	return out
}

// Counters returns the lifetime allocation and recycle totals.
func (ps *PoolSet) Counters() (allocated, recycled uint64) {
	ps.crit.Enter()
	allocated, recycled = ps.allocated, ps.recycled
	ps.crit.Exit()
	return allocated, recycled
}

func (ps *PoolSet) enter(isr bool) {
	if isr {
		ps.crit.EnterISR()
	} else {
		ps.crit.Enter()
	}
}

func (ps *PoolSet) exit(isr bool) {
	if isr {
		ps.crit.ExitISR()
	} else {
		ps.crit.Exit()
	}
}
