package dispatch

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/flywheel-go/dispatch/core"
)

// Event is a multicast fire-and-dispatch signal carrying a payload.
// Internally it is a second instance of the priority wait-queue, holding
// waiter records instead of task records, so Trigger's dispatch order
// follows the same (priority, age) rule as TaskQueue dispatch rather than
// inventing a second ordering mechanism.
type Event struct {
	name      string
	autoReset bool
	config    *core.Config

	mu          sync.Mutex
	waiters     *core.WaitQueue
	waiterFuncs map[*core.Record]waiterPayload
	triggered   bool
}

// waiterPayload is the callable shape stored in the Event's wait-queue: it
// receives the trigger's payload and returns whether to remain attached.
type waiterPayload func(payload any) bool

// NewEvent builds an Event. autoReset resets triggered back to false
// after each trigger's dispatch completes.
func NewEvent(name string, autoReset bool, cfg *core.Config) *Event {
	return &Event{
		name:        name,
		autoReset:   autoReset,
		config:      cfg.WithDefaults(),
		waiters:     core.NewWaitQueue(nil),
		waiterFuncs: make(map[*core.Record]waiterPayload),
	}
}

// Triggered reports whether the event is currently in the triggered state
// (always false once autoReset has run after a trigger).
func (e *Event) Triggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

// Add schedules callback to run on idle once triggered, re-arming itself
// (staying attached) if callback returns true, detaching if it returns
// false. Trigger never waits for the idle callback: the waiter stays
// attached optimistically and is detached once the idle callback actually
// runs and declines. Because of that deferral, a subsequent trigger may
// enqueue another idle callback before an earlier one has run — a
// subscriber may therefore be invoked after returning false. Callers
// wanting strict one-shot behavior must use cancel.
func (e *Event) Add(callback func(payload any) bool, priority int, cancel *core.CancelToken, idle IdleScheduler) {
	var rec *core.Record
	var detached atomic.Bool
	rec = e.attach(priority, cancel, func(payload any) bool {
		idle.Schedule(priority, func() {
			if !callback(payload) {
				detached.Store(true)
				e.detach(rec)
			}
		})
		// With an inline idle scheduler the callback has already run by
		// now; honor its decision instead of re-attaching a dead waiter.
		return !detached.Load()
	})
}

// Execute synchronously blocks the caller until the next trigger; mapper
// receives the payload and its return value is returned to the caller.
// One-shot: it detaches after the first trigger.
func (e *Event) Execute(mapper func(payload any) (any, error), priority int, cancel *core.CancelToken) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	e.attach(priority, cancel, func(payload any) bool {
		v, err := runCallable(func() (any, error) { return mapper(payload) })
		done <- outcome{value: v, err: err}
		return false
	})
	select {
	case o := <-done:
		return o.value, o.err
	case <-cancelled(cancel):
		return nil, core.ErrCancelled
	}
}

// ExecuteAsync cooperatively suspends the caller: mapper runs inline on the
// next trigger, and reply is scheduled on idle with mapper's result.
// One-shot. If cancel fires before mapper starts, reply receives
// core.ErrCancelled instead.
func (e *Event) ExecuteAsync(mapper func(payload any) (any, error), priority int, cancel *core.CancelToken, idle IdleScheduler, reply func(any, error)) {
	var replied atomic.Bool
	e.attach(priority, cancel, func(payload any) bool {
		if !replied.CompareAndSwap(false, true) {
			return false
		}
		v, err := runCallable(func() (any, error) { return mapper(payload) })
		idle.Schedule(priority, func() { reply(v, err) })
		return false
	})
	if cancel != nil {
		// Fires inline if cancel was already cancelled and attach refused.
		cancel.Connect(func() {
			if replied.CompareAndSwap(false, true) {
				idle.Schedule(priority, func() { reply(nil, core.ErrCancelled) })
			}
		})
	}
}

// ExecuteBackground cooperatively suspends the caller: after the next
// trigger, mapper runs on a worker goroutine from queue; any failure from
// mapper propagates to reply; the result is delivered on idle. One-shot.
// If cancel fires before mapper starts, reply receives core.ErrCancelled
// instead.
func (e *Event) ExecuteBackground(mapper func(payload any) (any, error), priority int, cancel *core.CancelToken, queue *TaskQueue, idle IdleScheduler, reply func(any, error)) {
	var replied atomic.Bool
	if cancel != nil {
		cancel.Connect(func() {
			if replied.CompareAndSwap(false, true) {
				idle.Schedule(priority, func() { reply(nil, core.ErrCancelled) })
			}
		})
	}
	e.attach(priority, cancel, func(payload any) bool {
		queue.Add(func() bool {
			if !replied.CompareAndSwap(false, true) {
				return false
			}
			v, err := runCallable(func() (any, error) { return mapper(payload) })
			idle.Schedule(priority, func() { reply(v, err) })
			return false
		}, priority, cancel)
		return false
	})
}

func (e *Event) attach(priority int, cancel *core.CancelToken, wp waiterPayload) *core.Record {
	if cancel != nil && cancel.IsCancelled() {
		return nil
	}
	rec := core.NewRecord(priority, cancel, func() bool {
		return false // placeholder; trigger invokes wp directly below
	})
	// The waiter's actual callable is stored out-of-band, since
	// core.Payload carries no argument for the trigger's payload; trigger
	// reconstructs the call by looking the waiter up via this closure
	// table rather than core.Payload's zero-arg shape.
	e.mu.Lock()
	e.waiterFuncs[rec] = wp
	e.mu.Unlock()

	if cancel != nil {
		rec.CancelHandle = cancel.Connect(func() {
			e.detach(rec)
		})
	}
	e.waiters.Offer(rec)
	return rec
}

// detach removes a waiter from both the queue and the closure table. Safe
// to call for a waiter mid-dispatch (already drained from the queue): the
// queue removal no-ops and the table entry, if re-added, is cleared.
func (e *Event) detach(rec *core.Record) {
	if rec == nil {
		return
	}
	e.waiters.Remove(rec)
	e.mu.Lock()
	delete(e.waiterFuncs, rec)
	e.mu.Unlock()
}

// Trigger dispatches payload to every waiter currently attached, in
// priority/age order, exactly once each; a waiter whose payload returns
// false is detached during this dispatch. Waiters added while Trigger is
// running participate only in the next Trigger, because Trigger drains a
// snapshot taken at the start of the call.
func (e *Event) Trigger(payload any) {
	e.mu.Lock()
	e.triggered = true
	e.mu.Unlock()

	snapshot := e.waiters.DrainSnapshot()
	for _, rec := range snapshot {
		e.mu.Lock()
		wp, ok := e.waiterFuncs[rec]
		if ok {
			delete(e.waiterFuncs, rec)
		}
		e.mu.Unlock()
		if !ok {
			continue // cancelled concurrently with Trigger
		}

		if rec.Cancel != nil {
			rec.Cancel.Disconnect(rec.CancelHandle)
		}

		if e.safeDispatch(wp, payload) {
			e.attachExisting(rec, wp)
		}
	}

	e.mu.Lock()
	if e.autoReset {
		e.triggered = false
	}
	e.mu.Unlock()
}

// safeDispatch runs one waiter's payload, recovering a panic so a single
// panicking waiter cannot abort the rest of the drained snapshot. The
// panicking waiter stays detached (rearm false), consistent with Observe's
// recovery policy for task payloads.
func (e *Event) safeDispatch(wp waiterPayload, payload any) (rearm bool) {
	defer func() {
		if r := recover(); r != nil {
			e.config.PanicHandler.HandlePanic(e.name, -1, r, debug.Stack())
		}
	}()
	return wp(payload)
}

func (e *Event) attachExisting(rec *core.Record, wp waiterPayload) {
	e.mu.Lock()
	e.waiterFuncs[rec] = wp
	e.mu.Unlock()
	if rec.Cancel != nil {
		rec.CancelHandle = rec.Cancel.Connect(func() {
			e.detach(rec)
		})
	}
	e.waiters.Offer(rec)
}
