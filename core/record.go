package core

import "sync/atomic"

// Payload is the callable bundled into a TaskRecord. It returns true to ask
// the owning queue to re-enqueue the record (with a fresh Age), false to
// drop it after this run.
type Payload func() bool

// State is the lifecycle stage of a Record: Queued -> Running ->
// {Done, Requeued}, or Queued -> Cancelled.
type State int32

const (
	StateQueued State = iota
	StateRunning
	StateDone
	StateRequeued
	StateCancelled
)

// Record is the task record: priority + age + optional cancellation +
// payload. A Record is owned by exactly one wait-queue at a time; it is
// never reused across queues after it leaves one unless its payload asked
// for re-enqueue, in which case Age is reassigned.
type Record struct {
	Priority int
	Age      uint64

	Cancel *CancelToken

	Payload Payload

	// CancelHandle is the CancelToken subscription id returned by
	// Cancel.Connect, if the owner attached a removal callback. 0 means
	// none attached (or already disconnected). Owner-managed; the queue
	// itself never reads it.
	CancelHandle int64

	state atomic.Int32

	// index is maintained by the heap this record currently lives in; it
	// is private queue bookkeeping, not part of the record's identity.
	index int
}

// NewRecord builds a Record in the Queued state. Age is assigned by the
// wait-queue on Offer, not here.
func NewRecord(priority int, cancel *CancelToken, payload Payload) *Record {
	r := &Record{Priority: priority, Cancel: cancel, Payload: payload}
	r.state.Store(int32(StateQueued))
	return r
}

func (r *Record) State() State { return State(r.state.Load()) }

func (r *Record) setState(s State) { r.state.Store(int32(s)) }

// MarkRunning transitions the record to Running, called by the queue owner
// immediately before invoking its payload.
func (r *Record) MarkRunning() { r.setState(StateRunning) }

// MarkDone transitions the record to Done: the payload ran and asked not
// to be re-enqueued.
func (r *Record) MarkDone() { r.setState(StateDone) }

// MarkRequeued transitions the record to Requeued: the payload asked to be
// re-enqueued. The owner must give it a fresh Age via a new Offer.
func (r *Record) MarkRequeued() { r.setState(StateRequeued) }

// MarkCancelled transitions the record to Cancelled: its cancellation
// token fired before dispatch.
func (r *Record) MarkCancelled() { r.setState(StateCancelled) }

// Less implements the total (priority, age) order: lower priority value
// wins; ties are broken by lower age. Construction guarantees no two
// records in the same queue ever share an age, so ties are impossible.
func Less(a, b *Record) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Age < b.Age
}
