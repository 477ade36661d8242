package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/flywheel-go/dispatch/core"
)

// Lazy is a first-touch singleton initializer: at most one successful
// factory invocation, contention-safe, lock-free on the fast path once a
// value has been set. The construction gate is a Semaphore(1), so Get
// inherits the same priority and cancellation plumbing as every other
// acquiring operation.
type Lazy[T any] struct {
	gate    *Semaphore
	factory func(priority int, cancel *core.CancelToken) (T, error)

	set   atomic.Bool
	value T
}

// NewLazy builds a Lazy whose value is produced by factory on first
// successful Get.
func NewLazy[T any](name string, factory func(priority int, cancel *core.CancelToken) (T, error), cfg *core.Config) *Lazy[T] {
	return &Lazy[T]{
		gate:    NewSemaphore(name+".lazy", 1, 1, time.Second, cfg),
		factory: factory,
	}
}

// Get returns the lazily constructed value, building it via factory on the
// first successful call. Concurrent callers all observe the same value;
// factory failure leaves the value unset, permitting retry by later
// callers.
func (l *Lazy[T]) Get(priority int, cancel *core.CancelToken) (T, error) {
	if l.set.Load() {
		return l.value, nil
	}

	if err := l.gate.Lock(priority, cancel); err != nil {
		var zero T
		return zero, err
	}
	defer l.gate.Unlock()

	if l.set.Load() {
		return l.value, nil
	}

	v, err := l.factory(priority, cancel)
	if err != nil {
		var zero T
		return zero, core.NewFactoryError(err)
	}
	l.value = v
	l.set.Store(true)
	return l.value, nil
}

// GetAsync cooperatively suspends until the value is available (building
// it if necessary), delivering the result on idle.
func (l *Lazy[T]) GetAsync(priority int, cancel *core.CancelToken, idle IdleScheduler, reply func(T, error)) {
	if l.set.Load() {
		idle.Schedule(priority, func() { reply(l.value, nil) })
		return
	}

	l.gate.LockAsync(priority, cancel, idle, func(err error) {
		if err != nil {
			var zero T
			reply(zero, err)
			return
		}
		defer l.gate.Unlock()

		if l.set.Load() {
			reply(l.value, nil)
			return
		}

		v, err := l.factory(priority, cancel)
		if err != nil {
			var zero T
			reply(zero, core.NewFactoryError(err))
			return
		}
		l.value = v
		l.set.Store(true)
		reply(l.value, nil)
	})
}
