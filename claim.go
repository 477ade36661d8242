package dispatch

import (
	"sync"

	"github.com/flywheel-go/dispatch/core"
)

// Claim is a scoped handle that releases its underlying lock/resource on a
// single call to Release. Go has no deterministic destructors, so the
// release is a documented caller obligation — `defer claim.Release()`
// immediately after a successful acquire — rather than a finalizer.
type Claim struct {
	mu      sync.Mutex
	release func()
	logger  core.Logger
	owner   string

	acquiredTicks int64
	releasedTicks int64 // 0 = unreleased
}

func newClaim(release func(), logger core.Logger, owner string) *Claim {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Claim{
		release:       release,
		logger:        logger,
		owner:         owner,
		acquiredTicks: core.DefaultClock.NowMicros(),
	}
}

// Active reports whether the claim has been acquired and not yet released.
func (c *Claim) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquiredTicks > 0 && c.releasedTicks == 0
}

// Release releases the underlying lock/resource. A second call, or a call
// before the claim was ever active, logs an InvalidState violation and is
// a no-op.
func (c *Claim) Release() {
	c.mu.Lock()
	if c.acquiredTicks == 0 || c.releasedTicks != 0 {
		c.mu.Unlock()
		c.logger.Error("release of inactive claim", core.F("owner", c.owner))
		return
	}
	c.releasedTicks = core.DefaultClock.NowMicros()
	c.mu.Unlock()

	c.release()
}

// SemaphoreClaim acquires a Claim on sem by locking it, synchronously.
func SemaphoreClaim(sem *Semaphore, priority int, cancel *core.CancelToken) (*Claim, error) {
	return sem.Claim(priority, cancel)
}

// ResourceClaim acquires a Claim on pool, synchronously, exposing the
// acquired resource via Resource.
func ResourceClaim[T any](pool *ResourcePool[T], priority int, cancel *core.CancelToken) (*ResourceHandle[T], error) {
	res, err := pool.Acquire(priority, cancel)
	if err != nil {
		return nil, err
	}
	claim := newClaim(func() { pool.Release(res) }, pool.config.Logger, pool.name)
	return &ResourceHandle[T]{Claim: claim, Resource: res}, nil
}

// ResourceHandle bundles a Claim with the concrete resource it guards, so
// callers can reach the resource without a type assertion.
type ResourceHandle[T any] struct {
	*Claim
	Resource T
}
