package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flywheel-go/dispatch/core"
)

// Task is dispatched work: it returns true to ask the owning queue to
// re-enqueue it (with a fresh age), false to drop it after this run.
type Task = core.Payload

// TaskQueue is the public dispatch surface: it owns a priority wait-queue
// (core.WaitQueue) and a thread-management mixin (core.ThreadState),
// spawning and retiring worker goroutines against queue demand, and
// exposing synchronous, idle-callback, and background execution modes with
// cancellation and priority.
type TaskQueue struct {
	name    string
	queue   *core.WaitQueue
	threads *core.ThreadState
	delay   *core.DelayManager
	history *core.ExecutionHistory
	config  *core.Config

	shuttingDown atomic.Bool
	inFlight     sync.WaitGroup
}

// NewTaskQueue builds a TaskQueue identified by name (used in logs and
// metrics labels), spawning at most maxThreads workers (-1 means
// unlimited) that self-retire after sitting idle for maxIdleTime (<0 means
// never retire, 0 means retire as soon as the queue empties). cfg may be
// nil to accept every default.
func NewTaskQueue(name string, maxThreads int, maxIdleTime time.Duration, cfg *core.Config) *TaskQueue {
	tq := &TaskQueue{
		name:    name,
		history: core.NewExecutionHistory(0),
		delay:   core.NewDelayManager(),
		config:  cfg.WithDefaults(),
	}
	tq.threads = core.NewThreadState(maxThreads, maxIdleTime)
	tq.queue = core.NewWaitQueue(func() {
		tq.spawnWorkers()
	})
	return tq
}

// spawnWorkers starts workers against current demand: at most one new
// worker per queued record, minus workers already idle.
func (tq *TaskQueue) spawnWorkers() {
	tq.threads.Spawn(tq.queue.Length(), tq.workerLoop)
}

// Length delegates to the underlying priority wait-queue.
func (tq *TaskQueue) Length() int { return tq.queue.Length() }

// Name returns the queue's diagnostic name.
func (tq *TaskQueue) Name() string { return tq.name }

// Stats is a point-in-time snapshot usable by a polling metrics exporter.
type Stats struct {
	Length  int
	Workers int
}

// Stats returns a snapshot of this queue's current length and live
// worker count.
func (tq *TaskQueue) Stats() Stats {
	return Stats{Length: tq.Length(), Workers: tq.RunningWorkers()}
}

// Workers is an alias for RunningWorkers satisfying
// observability/prometheus's QueueSnapshotProvider.
func (tq *TaskQueue) Workers() int { return tq.RunningWorkers() }

// RunningWorkers reports the number of live worker goroutines. Workers
// keep the owning *TaskQueue reachable through their closures, so this is
// purely an observability figure.
func (tq *TaskQueue) RunningWorkers() int { return tq.threads.NumThreads() }

// Add wraps task in a record (assigning age on enqueue), offers it into the
// wait-queue, and spawns workers against demand (one per queued record,
// minus workers already idle, within the cap). If cancel
// is already cancelled, the record is never enqueued and Add returns false.
// If cancel later fires before dispatch, the record is removed from the
// queue automatically.
func (tq *TaskQueue) Add(task Task, priority int, cancel *core.CancelToken) bool {
	if tq.shuttingDown.Load() {
		tq.reject("shutting down")
		return false
	}
	if cancel != nil && cancel.IsCancelled() {
		tq.reject("cancelled before submission")
		return false
	}

	rec := core.NewRecord(priority, cancel, task)
	tq.attachCancellation(rec)

	tq.inFlight.Add(1)
	tq.queue.Offer(rec)
	tq.config.Metrics.RecordQueueDepth(tq.name, tq.queue.Length())
	tq.spawnWorkers()
	return true
}

// AddDelayed schedules task for dispatch after delay has elapsed. On fire,
// task is handed to the same Add path used for ordinary submissions, so it
// still competes on (priority, age) once eligible rather than jumping the
// queue.
func (tq *TaskQueue) AddDelayed(task Task, delay time.Duration, priority int, cancel *core.CancelToken) {
	if tq.shuttingDown.Load() {
		tq.reject("shutting down")
		return
	}
	// Not counted in inFlight while merely waiting out its delay: Shutdown
	// and ShutdownGraceful both stop the delay manager first, discarding
	// any not-yet-fired item outright, so nothing here would ever reach
	// the point of decrementing a counter. Once it fires, Add's own
	// inFlight bookkeeping takes over.
	tq.delay.Add(delay, func() {
		tq.Add(task, priority, cancel)
	})
}

func (tq *TaskQueue) attachCancellation(rec *core.Record) {
	if rec.Cancel == nil {
		return
	}
	rec.CancelHandle = rec.Cancel.Connect(func() {
		if tq.queue.Remove(rec) {
			rec.MarkCancelled()
			tq.inFlight.Done()
		}
	})
}

func (tq *TaskQueue) reject(reason string) {
	tq.config.RejectedHandler.HandleRejected(tq.name, reason)
	tq.config.Metrics.RecordRejected(tq.name, reason)
}

// Process polls the wait-queue with wait (same blocking convention as
// core.WaitQueue.PollTimed) and, on a record, runs its payload. If the
// payload returns true the record is re-enqueued with a fresh age.
// Returns true on successful dispatch, false on timeout/empty queue.
func (tq *TaskQueue) Process(wait time.Duration) bool {
	return tq.process(context.Background(), wait)
}

func (tq *TaskQueue) process(ctx context.Context, wait time.Duration) bool {
	rec, ok := tq.queue.PollTimed(wait)
	if !ok {
		return false
	}
	tq.dispatch(ctx, rec)
	return true
}

func (tq *TaskQueue) dispatch(ctx context.Context, rec *core.Record) {
	if rec.Cancel != nil {
		rec.Cancel.Disconnect(rec.CancelHandle)
	}
	rec.MarkRunning()

	observed := core.Observe(tq.name, rec.Priority, rec.Payload, tq.history, tq.config.Metrics, tq.config.PanicHandler, tq.threads.WorkerID(ctx))

	var requeue bool
	tq.threads.RunTask(ctx, func() {
		requeue = observed()
	})

	if requeue {
		rec.MarkRequeued()
		tq.attachCancellation(rec)
		tq.queue.Offer(rec)
	} else {
		rec.MarkDone()
		tq.inFlight.Done()
	}
}

// workerLoop is the body every spawned worker goroutine runs: repeatedly
// process the queue with the configured idle-retirement wait, until
// process reports no work was available within that wait, at which point
// the worker retires.
func (tq *TaskQueue) workerLoop(ctx context.Context) {
	for tq.process(ctx, tq.threads.MaxIdleTime()) {
	}
	tq.threads.Retire(ctx)
}

// executeResult bundles a callable's outcome for the synchronous and
// cooperative execute* variants.
type executeResult struct {
	value any
	err   error
}

// runCallable invokes fn, converting a panic into a CallbackError wrapping
// a PanicError, so an execute* caller always receives a result instead of
// blocking on a reply that never comes.
func runCallable(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, core.NewCallbackError(core.NewPanicError(r))
		}
	}()
	return fn()
}

// Execute synchronously adds a record whose payload runs callable,
// captures its result or failure, and blocks the calling goroutine until
// the record has been dispatched (or the token cancels it first). Must not
// be called from the sole goroutine that also drives this queue's workers
// exclusively, or deadlock is possible.
func (tq *TaskQueue) Execute(callable func() (any, error), priority int, cancel *core.CancelToken) (any, error) {
	done := make(chan executeResult, 1)
	task := func() bool {
		v, err := runCallable(callable)
		done <- executeResult{value: v, err: err}
		return false
	}
	if !tq.Add(task, priority, cancel) {
		return nil, core.ErrCancelled
	}
	select {
	case res := <-done:
		return res.value, res.err
	case <-cancelled(cancel):
		return nil, core.ErrCancelled
	}
}

// ExecuteAsync cooperatively suspends: callable runs on this queue as an
// ordinary task, and reply is scheduled on idle for resumption once it
// completes. Go has no native await, so cooperative suspension is realized
// as an explicit continuation callback rather than blocking the caller. If
// cancel fires before callable starts, reply receives core.ErrCancelled.
func (tq *TaskQueue) ExecuteAsync(callable func() (any, error), priority int, cancel *core.CancelToken, idle IdleScheduler, reply func(any, error)) {
	var replied atomic.Bool
	task := func() bool {
		if !replied.CompareAndSwap(false, true) {
			return false
		}
		v, err := runCallable(callable)
		idle.Schedule(priority, func() { reply(v, err) })
		return false
	}
	if !tq.Add(task, priority, cancel) {
		idle.Schedule(priority, func() { reply(nil, core.ErrCancelled) })
		return
	}
	if cancel != nil {
		cancel.Connect(func() {
			if replied.CompareAndSwap(false, true) {
				idle.Schedule(priority, func() { reply(nil, core.ErrCancelled) })
			}
		})
	}
}

// ExecuteBackground names ExecuteAsync's mechanism for work that belongs
// on a worker goroutine. Both already run callable on a TaskQueue worker
// and resume via idle; the two entry points stay distinct so background
// work can be routed to its own queue when desired.
func (tq *TaskQueue) ExecuteBackground(callable func() (any, error), priority int, cancel *core.CancelToken, idle IdleScheduler, reply func(any, error)) {
	tq.ExecuteAsync(callable, priority, cancel, idle, reply)
}

func cancelled(token *core.CancelToken) <-chan struct{} {
	ch := make(chan struct{})
	if token == nil {
		return ch
	}
	token.Connect(func() { close(ch) })
	return ch
}

// Shutdown stops accepting new submissions and drops whatever is still
// queued immediately, without waiting for it to drain. A task already
// running is not interrupted.
func (tq *TaskQueue) Shutdown() {
	tq.shuttingDown.Store(true)
	tq.delay.Stop()
	tq.queue.Clear()
}

// ShutdownGraceful stops accepting new submissions and waits, bounded by
// ctx, for all queued and in-flight work to finish before returning.
func (tq *TaskQueue) ShutdownGraceful(ctx context.Context) error {
	tq.shuttingDown.Store(true)
	tq.delay.Stop()

	done := make(chan struct{})
	go func() {
		tq.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
