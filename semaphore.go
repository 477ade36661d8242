package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flywheel-go/dispatch/core"
)

// Semaphore is a TaskQueue specialized to gate concurrent claims: requests
// are only dispatched while claims are below the cap. A cap of 1 gives
// mutex semantics.
//
// The admission gate is a fixed-capacity channel pre-filled with maxClaims
// tokens — acquiring is a receive, releasing is a send — so no two
// dispatches can ever observe the same free slot.
type Semaphore struct {
	name      string
	maxClaims int
	claims    atomic.Int32
	gate      chan struct{}

	queue   *core.WaitQueue
	threads *core.ThreadState
	history *core.ExecutionHistory
	config  *core.Config
}

// NewSemaphore builds a Semaphore admitting at most maxClaims concurrent
// holders (<= 0 defaults to 1, giving mutex semantics), backed by up to
// maxThreads workers (-1 unlimited) that self-retire after maxIdleTime
// idle.
func NewSemaphore(name string, maxClaims, maxThreads int, maxIdleTime time.Duration, cfg *core.Config) *Semaphore {
	if maxClaims <= 0 {
		maxClaims = 1
	}
	s := &Semaphore{
		name:      name,
		maxClaims: maxClaims,
		gate:      make(chan struct{}, maxClaims),
		history:   core.NewExecutionHistory(0),
		config:    cfg.WithDefaults(),
	}
	for i := 0; i < maxClaims; i++ {
		s.gate <- struct{}{}
	}
	s.threads = core.NewThreadState(maxThreads, maxIdleTime)
	s.queue = core.NewWaitQueue(func() {
		s.spawnWorkers()
	})
	return s
}

// spawnWorkers starts workers against the effective demand: bounded by
// both the number of queued records and the free claim slots, so no worker
// is started just to block on a fully-claimed gate.
func (s *Semaphore) spawnWorkers() {
	demand := s.queue.Length()
	if free := s.maxClaims - int(s.claims.Load()); free < demand {
		demand = free
	}
	if demand > 0 {
		s.threads.Spawn(demand, s.workerLoop)
	}
}

// Length delegates to the underlying priority wait-queue.
func (s *Semaphore) Length() int { return s.queue.Length() }

// Claims returns the current number of held claims.
func (s *Semaphore) Claims() int { return int(s.claims.Load()) }

// MaxClaims returns the configured admission cap.
func (s *Semaphore) MaxClaims() int { return s.maxClaims }

// Workers satisfies observability/prometheus's QueueSnapshotProvider.
func (s *Semaphore) Workers() int { return s.threads.NumThreads() }

// SemaphoreStats is a point-in-time snapshot usable by a polling metrics
// exporter.
type SemaphoreStats struct {
	Length    int
	Claims    int
	MaxClaims int
	Workers   int
}

// Stats returns a snapshot of this semaphore's current length, claims in
// use, and live worker count.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Length:    s.Length(),
		Claims:    s.Claims(),
		MaxClaims: s.maxClaims,
		Workers:   s.threads.NumThreads(),
	}
}

func (s *Semaphore) acquireGate(wait time.Duration) bool {
	acquire := func() bool {
		select {
		case <-s.gate:
			s.claims.Add(1)
			s.config.Metrics.RecordClaims(s.name, int(s.claims.Load()), s.maxClaims)
			return true
		default:
			return false
		}
	}

	if wait == 0 {
		return acquire()
	}
	if wait < 0 {
		<-s.gate
		s.claims.Add(1)
		s.config.Metrics.RecordClaims(s.name, int(s.claims.Load()), s.maxClaims)
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-s.gate:
		s.claims.Add(1)
		s.config.Metrics.RecordClaims(s.name, int(s.claims.Load()), s.maxClaims)
		return true
	case <-timer.C:
		return false
	}
}

func (s *Semaphore) releaseGate() {
	s.claims.Add(-1)
	s.gate <- struct{}{}
	s.config.Metrics.RecordClaims(s.name, int(s.claims.Load()), s.maxClaims)
}

// addRecord is the shared submission path for Add, Lock and Claim: build a
// record, attach cancellation, and offer it into the wait-queue.
func (s *Semaphore) addRecord(task Task, priority int, cancel *core.CancelToken) bool {
	if cancel != nil && cancel.IsCancelled() {
		s.config.RejectedHandler.HandleRejected(s.name, "cancelled before submission")
		return false
	}
	rec := core.NewRecord(priority, cancel, task)
	if cancel != nil {
		rec.CancelHandle = cancel.Connect(func() {
			if s.queue.Remove(rec) {
				rec.MarkCancelled()
			}
		})
	}
	s.queue.Offer(rec)
	s.config.Metrics.RecordQueueDepth(s.name, s.queue.Length())
	s.spawnWorkers()
	return true
}

// Add wraps task so that a claim slot is released after it returns,
// whether it returned true (requeue) or false (done): the semaphore's own
// admission gate, not the task, decides whether the next run gets one.
func (s *Semaphore) Add(task Task, priority int, cancel *core.CancelToken) bool {
	wrapped := func() bool {
		defer s.releaseGate()
		return task()
	}
	return s.addRecord(wrapped, priority, cancel)
}

// Process waits (per the PollTimed convention) for a free claim slot and a
// queued record, then dispatches it. Returns true on successful dispatch.
func (s *Semaphore) Process(wait time.Duration) bool {
	return s.process(context.Background(), wait)
}

// process waits until both a claim slot is free and a record is queued (or
// the deadline passes), then dispatches. The gate is acquired first; if the
// queue turns out to be empty the slot is handed back and the wait resumes
// against the queue, so a blocked process never holds a claim it isn't
// using.
func (s *Semaphore) process(ctx context.Context, wait time.Duration) bool {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}

	for {
		remaining := wait
		if wait > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}
		if !s.acquireGate(remaining) {
			return false
		}
		if rec, ok := s.queue.PollTimed(0); ok {
			s.dispatch(ctx, rec)
			return true
		}
		s.releaseGate()

		if wait > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false
			}
		}
		// Wait for a record to land, then race for the gate again.
		if _, ok := s.queue.PeekTimed(remaining); !ok {
			return false
		}
	}
}

// dispatch runs rec's payload outside every internal lock, with the claim
// slot already held by the caller. The payload decides the slot's fate:
// Add's wrapper releases it on return, Lock's leaves it held.
func (s *Semaphore) dispatch(ctx context.Context, rec *core.Record) {
	if rec.Cancel != nil {
		rec.Cancel.Disconnect(rec.CancelHandle)
	}
	rec.MarkRunning()

	observed := core.Observe(s.name, rec.Priority, rec.Payload, s.history, s.config.Metrics, s.config.PanicHandler, s.threads.WorkerID(ctx))
	var requeue bool
	s.threads.RunTask(ctx, func() {
		requeue = observed()
	})

	if requeue {
		rec.MarkRequeued()
		if rec.Cancel != nil {
			rec.CancelHandle = rec.Cancel.Connect(func() {
				if s.queue.Remove(rec) {
					rec.MarkCancelled()
				}
			})
		}
		s.queue.Offer(rec)
	} else {
		rec.MarkDone()
	}
}

func (s *Semaphore) workerLoop(ctx context.Context) {
	for s.process(ctx, s.threads.MaxIdleTime()) {
	}
	s.threads.Retire(ctx)
}

// Lock synchronously acquires an anonymous claim: after a successful
// return, claims has been incremented. The caller must eventually call
// Unlock (directly, or via Claim's scoped handle).
func (s *Semaphore) Lock(priority int, cancel *core.CancelToken) error {
	done := make(chan struct{})
	task := func() bool {
		close(done)
		return false
	}
	if !s.addRecord(task, priority, cancel) {
		return core.ErrCancelled
	}
	select {
	case <-done:
		return nil
	case <-cancelled(cancel):
		return core.ErrCancelled
	}
}

// LockAsync cooperatively suspends: the claim is acquired on this
// semaphore's own dispatch, and reply is scheduled on idle once acquired
// (or once cancellation is observed).
func (s *Semaphore) LockAsync(priority int, cancel *core.CancelToken, idle IdleScheduler, reply func(error)) {
	var replied atomic.Bool
	task := func() bool {
		if !replied.CompareAndSwap(false, true) {
			// The caller was already told ErrCancelled: hand the slot back.
			s.releaseGate()
			return false
		}
		idle.Schedule(priority, func() { reply(nil) })
		return false
	}
	if !s.addRecord(task, priority, cancel) {
		idle.Schedule(priority, func() { reply(core.ErrCancelled) })
		return
	}
	if cancel != nil {
		cancel.Connect(func() {
			if replied.CompareAndSwap(false, true) {
				idle.Schedule(priority, func() { reply(core.ErrCancelled) })
			}
		})
	}
}

// Unlock releases one held claim, signals a waiting worker, and attempts
// to spawn workers if the queue has pending work and new capacity is
// available. Unlocking with zero claims held is logged as InvalidState and
// otherwise a no-op.
func (s *Semaphore) Unlock() {
	if s.claims.Load() <= 0 {
		s.config.Logger.Error("unlock with zero claims held", core.F("semaphore", s.name))
		s.config.Metrics.RecordRejected(s.name, "unlock with zero claims")
		return
	}
	s.releaseGate()
	s.spawnWorkers()
}

// Claim synchronously acquires a claim and returns a Claim whose Release
// calls Unlock.
func (s *Semaphore) Claim(priority int, cancel *core.CancelToken) (*Claim, error) {
	if err := s.Lock(priority, cancel); err != nil {
		return nil, err
	}
	return newClaim(s.Unlock, s.config.Logger, s.name), nil
}

// ClaimAsync cooperatively acquires a claim, delivering the resulting
// Claim (or an error) on idle.
func (s *Semaphore) ClaimAsync(priority int, cancel *core.CancelToken, idle IdleScheduler, reply func(*Claim, error)) {
	s.LockAsync(priority, cancel, idle, func(err error) {
		if err != nil {
			reply(nil, err)
			return
		}
		reply(newClaim(s.Unlock, s.config.Logger, s.name), nil)
	})
}

// Shutdown drops every queued record immediately. It does not refuse later
// submissions: Add, Lock and Claim called after Shutdown still enqueue.
func (s *Semaphore) Shutdown() {
	s.queue.Clear()
}
