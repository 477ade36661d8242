// Package dispatch provides a library of high-level concurrency
// primitives for asynchronous, event-loop-integrated applications:
// cooperative, priority-ordered, cancellable task dispatch on top of
// goroutine pools and a cooperative idle scheduler, plus coordination
// objects (Semaphore, ResourcePool, Lazy, Event) sharing that substrate.
//
// # Quick start
//
// Build a TaskQueue and submit work to it:
//
//	q := dispatch.NewTaskQueue("jobs", 4, 30*time.Second, nil)
//	defer q.Shutdown()
//
//	q.Add(func() bool {
//		// work here; return true to re-enqueue, false to drop
//		return false
//	}, 0, nil)
//
// # Key concepts
//
// TaskQueue (core/queue.go's priority wait-queue, plus a thread-management
// mixin) dispatches submitted tasks in (priority, age) order: lower
// numerical priority dispatches first, ties broken by submission order.
// Workers are goroutines spawned on demand and retired after sitting idle.
//
// Semaphore specializes a TaskQueue to gate concurrent claims — Lock,
// Unlock, and a scope-bound Claim built on it.
//
// ResourcePool recycles expensive objects behind an optional admission
// cap, with idle reaping of unused resources.
//
// Lazy is a first-touch singleton built on a Semaphore(1): the factory
// runs at most once across any number of concurrent callers.
//
// Event multicasts a fire-and-dispatch signal with a payload to waiters
// registered in synchronous, idle-callback, or background modes.
//
// # Cancellation
//
// Every acquiring/dispatching operation accepts a *core.CancelToken. A
// token fired before dispatch removes the pending record and the caller
// observes core.ErrCancelled; a token fired after the callback has started
// does not interrupt it.
package dispatch
