package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type workerMarkerKeyType struct{}

var workerMarkerKey workerMarkerKeyType

type workerMarker struct {
	id    uint64
	owner *ThreadState
}

// ThreadState is the thread-management mixin: it spawns and reaps worker
// goroutines against queue demand. Every component that owns a wait-queue
// and wants worker goroutines composes one rather than duplicating
// spawn/reap logic.
type ThreadState struct {
	mu sync.Mutex

	maxThreads  int           // -1 = unlimited
	maxIdleTime time.Duration // <0 = never retire; 0 = retire as soon as idle

	numThreads   int
	idleThreads  int
	managedSet   map[uint64]struct{}
	nextWorkerID uint64
}

// NewThreadState builds a ThreadState with the given worker cap and
// idle-retirement policy.
func NewThreadState(maxThreads int, maxIdleTime time.Duration) *ThreadState {
	return &ThreadState{
		maxThreads:  maxThreads,
		maxIdleTime: maxIdleTime,
		managedSet:  make(map[uint64]struct{}),
	}
}

// MaxIdleTime returns the configured idle-retirement wait, passed as the
// `wait` argument to each worker's process(wait) call.
func (t *ThreadState) MaxIdleTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxIdleTime
}

// NumThreads returns the current number of live worker goroutines.
func (t *ThreadState) NumThreads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numThreads
}

// IdleThreads returns the current number of workers not presently running
// a task (includes workers still blocked waiting for one).
func (t *ThreadState) IdleThreads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleThreads
}

// Spawn starts new workers against demand, honoring the capacity and
// already-idle-workers policy:
//
//	new = clamp(maxNew, 0, capacity - numThreads) - idleThreads
//
// Counting idle workers as already committed prevents a thundering herd
// when a burst of enqueues races with a wake-up. maxNew < 0 asks for a
// single available worker: one is started only if no idle worker exists
// and capacity allows, so the convention stays safe under an unlimited
// (-1) maxThreads cap. start is invoked once per spawned worker, in its
// own goroutine, with a context tagged so RunTask/IsManagedWorker can
// recognize it as one of this ThreadState's own workers. start must loop
// until it decides to retire and then call Retire exactly once.
func (t *ThreadState) Spawn(maxNew int, start func(ctx context.Context)) int {
	t.mu.Lock()
	room := room(t.maxThreads, t.numThreads)
	upper := maxNew
	if maxNew < 0 {
		upper = 1
	}
	if upper > room {
		upper = room
	}
	n := upper - t.idleThreads
	if n <= 0 {
		t.mu.Unlock()
		return 0
	}

	ids := make([]uint64, n)
	for i := range ids {
		t.nextWorkerID++
		ids[i] = t.nextWorkerID
		t.managedSet[ids[i]] = struct{}{}
	}
	t.numThreads += n
	t.idleThreads += n
	t.mu.Unlock()

	for _, id := range ids {
		marker := &workerMarker{id: id, owner: t}
		StartThread(fmt.Sprintf("worker-%d", id), func(ctx context.Context) {
			start(context.WithValue(ctx, workerMarkerKey, marker))
		})
	}
	return n
}

func room(maxThreads, numThreads int) int {
	if maxThreads < 0 {
		return int(^uint(0) >> 1) // effectively unlimited
	}
	r := maxThreads - numThreads
	if r < 0 {
		return 0
	}
	return r
}

// Retire must be called by a worker, exactly once, immediately before it
// returns from start. It removes the worker from the managed set and
// decrements both numThreads and idleThreads.
func (t *ThreadState) Retire(ctx context.Context) {
	marker, ok := ctx.Value(workerMarkerKey).(*workerMarker)
	if !ok || marker.owner != t {
		return
	}
	t.mu.Lock()
	delete(t.managedSet, marker.id)
	t.numThreads--
	t.idleThreads--
	t.mu.Unlock()
}

// IncreaseMaxThreads raises the worker cap to n, but only if the current
// cap is positive (bounded) and below n: it strictly raises a bounded cap,
// never lowers one, and never touches an unbounded (-1) cap.
func (t *ThreadState) IncreaseMaxThreads(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxThreads > 0 && n > t.maxThreads {
		t.maxThreads = n
	}
}

// RunTask is invoked by process() around a user callback. If the calling
// goroutine is one of this ThreadState's own spawned workers, idleThreads
// is decremented for the duration of fn; an external caller driving
// process() itself (e.g. the main goroutine) is not accounted for.
func (t *ThreadState) RunTask(ctx context.Context, fn func()) {
	if t.IsManagedWorker(ctx) {
		t.mu.Lock()
		t.idleThreads--
		t.mu.Unlock()
		defer func() {
			t.mu.Lock()
			t.idleThreads++
			t.mu.Unlock()
		}()
	}
	fn()
}

// IsManagedWorker reports whether ctx was produced by this ThreadState's
// own Spawn (i.e. whether the calling goroutine is one of its workers).
func (t *ThreadState) IsManagedWorker(ctx context.Context) bool {
	marker, ok := ctx.Value(workerMarkerKey).(*workerMarker)
	return ok && marker.owner == t
}

// WorkerID returns the id Spawn assigned to the calling worker, or -1 for
// a context not produced by this ThreadState's own Spawn (an external
// caller driving process directly).
func (t *ThreadState) WorkerID(ctx context.Context) int {
	marker, ok := ctx.Value(workerMarkerKey).(*workerMarker)
	if !ok || marker.owner != t {
		return -1
	}
	return int(marker.id)
}
