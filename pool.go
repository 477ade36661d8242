package dispatch

import (
	"container/list"
	"sync"
	"time"

	"github.com/flywheel-go/dispatch/core"
)

// Factory produces and tears down the resources a ResourcePool manages.
// Create is called under no pool lock; Destroy is called from the reaper
// and from Shutdown.
type Factory[T any] struct {
	Create  func(priority int, cancel *core.CancelToken) (T, error)
	Destroy func(T)
}

type resourceRecord[T any] struct {
	resource   T
	lastUsed   time.Time
	elem       *list.Element // position in the free-list; nil while active
}

// ResourcePool recycles expensive objects: a factory, a free-list, an
// optional admission cap, and an idle reaper. When capped it
// shares its admission gate with a Semaphore; uncapped, resources are
// created on demand and only ever removed by idle reaping.
//
// Active resources are keyed by value in a map[any], so T must be
// comparable at run time: a slice-, map- or func-typed T panics on the
// first Acquire.
type ResourcePool[T any] struct {
	name    string
	factory Factory[T]
	config  *core.Config

	maxResources int // 0 = unlimited
	maxIdleTime  time.Duration
	gate         *Semaphore // nil when uncapped

	mu       sync.Mutex
	free     *list.List // PushFront on release, Acquire pops Front (MRU), reaper trims from Back (LRU)
	active   map[any]*resourceRecord[T]
	numTotal int

	delay *core.DelayManager
	// reapScheduled guards against arming more than one pending reap timer
	// per idle generation; the reaper re-arms itself for the next eligible
	// tail entry after each run.
	reapScheduled bool
}

// NewResourcePool builds a pool of resources built and torn down by
// factory. maxResources <= 0 means uncapped. A resource unused for longer
// than maxIdleTime is reaped; maxIdleTime < 0 disables reaping.
func NewResourcePool[T any](name string, factory Factory[T], maxResources int, maxIdleTime time.Duration, cfg *core.Config) *ResourcePool[T] {
	p := &ResourcePool[T]{
		name:         name,
		factory:      factory,
		config:       cfg.WithDefaults(),
		maxResources: maxResources,
		maxIdleTime:  maxIdleTime,
		free:         list.New(),
		active:       make(map[any]*resourceRecord[T]),
		delay:        core.NewDelayManager(),
	}
	if maxResources > 0 {
		// Gate workers retire after a second idle; they respawn on demand.
		p.gate = NewSemaphore(name+".admission", maxResources, maxResources, time.Second, cfg)
	}
	return p
}

// NumResources reports the current total (active + idle) resource count.
func (p *ResourcePool[T]) NumResources() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numTotal
}

// PoolStats is a point-in-time snapshot usable by a polling metrics
// exporter.
type PoolStats struct {
	Total int
	Idle  int
}

// Stats returns a snapshot of this pool's current total and idle resource
// counts.
func (p *ResourcePool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Total: p.numTotal, Idle: p.free.Len()}
}

// Total satisfies observability/prometheus's PoolSnapshotProvider.
func (p *ResourcePool[T]) Total() int { return p.Stats().Total }

// Idle satisfies observability/prometheus's PoolSnapshotProvider.
func (p *ResourcePool[T]) Idle() int { return p.Stats().Idle }

// Acquire obtains a resource: a free one if available, otherwise a freshly
// built one via the factory. If the pool is capped, Acquire first blocks
// on the admission gate.
func (p *ResourcePool[T]) Acquire(priority int, cancel *core.CancelToken) (T, error) {
	var zero T
	if p.gate != nil {
		if err := p.gate.Lock(priority, cancel); err != nil {
			return zero, err
		}
	}

	p.mu.Lock()
	// Pop the head (most recently used): the tail is the coldest entry,
	// next in line for the reaper.
	if elem := p.free.Front(); elem != nil {
		rec := elem.Value.(*resourceRecord[T])
		p.free.Remove(elem)
		rec.elem = nil
		p.active[any(rec.resource)] = rec
		p.mu.Unlock()
		return rec.resource, nil
	}
	p.mu.Unlock()

	res, err := p.factory.Create(priority, cancel)
	if err != nil {
		if p.gate != nil {
			p.gate.Unlock()
		}
		return zero, core.NewFactoryError(err)
	}

	p.mu.Lock()
	p.active[any(res)] = &resourceRecord[T]{resource: res}
	p.numTotal++
	p.mu.Unlock()
	return res, nil
}

// Release returns resource to the free-list, arms the idle reaper if not
// already armed, and (if capped) releases one admission unit.
func (p *ResourcePool[T]) Release(resource T) {
	p.mu.Lock()
	rec, ok := p.active[any(resource)]
	if !ok {
		p.mu.Unlock()
		p.config.Logger.Error("release of unknown resource", core.F("pool", p.name))
		return
	}
	delete(p.active, any(resource))
	rec.lastUsed = time.Now()
	rec.elem = p.free.PushFront(rec)
	p.mu.Unlock()

	p.armReaper()

	if p.gate != nil {
		p.gate.Unlock()
	}
}

// armReaper schedules a reap pass timed to the current LRU (tail) entry's
// expiry. A LIFO free-list used as a deque (push/pop at head, peek/trim
// from tail) needs no second heap, since the tail is already the
// next-to-expire entry.
func (p *ResourcePool[T]) armReaper() {
	p.mu.Lock()
	if p.reapScheduled || p.maxIdleTime < 0 {
		p.mu.Unlock()
		return
	}
	tail := p.free.Back()
	if tail == nil {
		p.mu.Unlock()
		return
	}
	rec := tail.Value.(*resourceRecord[T])
	wait := time.Until(rec.lastUsed.Add(p.maxIdleTime))
	if wait < 0 {
		wait = 0
	}
	p.reapScheduled = true
	p.mu.Unlock()

	p.delay.Add(wait, p.reap)
}

func (p *ResourcePool[T]) reap() {
	p.mu.Lock()
	p.reapScheduled = false
	now := time.Now()
	var dead []T
	for {
		tail := p.free.Back()
		if tail == nil {
			break
		}
		rec := tail.Value.(*resourceRecord[T])
		if now.Sub(rec.lastUsed) < p.maxIdleTime {
			break
		}
		p.free.Remove(tail)
		p.numTotal--
		dead = append(dead, rec.resource)
	}
	p.mu.Unlock()

	for _, r := range dead {
		if p.factory.Destroy != nil {
			p.factory.Destroy(r)
		}
	}
	p.armReaper()
}

// Execute acquires a resource, calls callable with it, and releases it
// unconditionally (success or failure).
func (p *ResourcePool[T]) Execute(callable func(T) (any, error), priority int, cancel *core.CancelToken) (any, error) {
	res, err := p.Acquire(priority, cancel)
	if err != nil {
		return nil, err
	}
	defer p.Release(res)
	return callable(res)
}

// Claim acquires a resource and returns a ResourceHandle wrapping a Claim
// whose Release returns the resource to the pool.
func (p *ResourcePool[T]) Claim(priority int, cancel *core.CancelToken) (*ResourceHandle[T], error) {
	return ResourceClaim(p, priority, cancel)
}

// Shutdown tears down every idle resource via the factory and stops the
// reaper. Resources still active (not yet released) are left for their
// holders to Release normally; Shutdown does not reach into active.
func (p *ResourcePool[T]) Shutdown() {
	p.delay.Stop()

	p.mu.Lock()
	var dead []T
	for e := p.free.Front(); e != nil; e = e.Next() {
		dead = append(dead, e.Value.(*resourceRecord[T]).resource)
	}
	p.free.Init()
	p.numTotal -= len(dead)
	p.mu.Unlock()

	for _, r := range dead {
		if p.factory.Destroy != nil {
			p.factory.Destroy(r)
		}
	}
	if p.gate != nil {
		p.gate.Shutdown()
	}
}
