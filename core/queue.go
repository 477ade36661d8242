package core

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// recordHeap is a container/heap min-heap over (Priority, Age) ascending,
// i.e. numerically smaller priority dispatches first, age breaks ties.
type recordHeap []*Record

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h recordHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *recordHeap) Push(x any) {
	r := x.(*Record)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// WaitQueue is the priority wait-queue: a total (priority, age) order,
// blocking/timed Poll/Peek, a Remove for cancellation, and a
// consumer-shortage signal raised whenever Offer succeeds with no consumer
// currently waiting.
//
// Blocking is realized with a broadcast channel rather than sync.Cond, so
// a timed wait can select between the wake signal and a timer without a
// helper goroutine per waiter. Offer closes and replaces the channel,
// waking every parked waiter at once; each re-checks the queue and either
// wins a record or parks again on the fresh channel, so a burst of offers
// can never strand a waiter no matter how many are parked.
type WaitQueue struct {
	mu      sync.Mutex
	items   recordHeap
	nextAge uint64

	signal  chan struct{}
	waiting atomic.Int64

	onShortage func()
}

// NewWaitQueue builds an empty WaitQueue. onShortage, if non-nil, is
// invoked synchronously from Offer whenever it succeeds with zero waiting
// consumers; callers must not block in it.
func NewWaitQueue(onShortage func()) *WaitQueue {
	return &WaitQueue{
		signal:     make(chan struct{}),
		onShortage: onShortage,
	}
}

// Offer inserts record, assigning it a fresh Age under the queue mutex.
// Offer is total: it never drops a record and always returns true.
func (q *WaitQueue) Offer(r *Record) bool {
	q.mu.Lock()
	r.Age = q.nextAge
	q.nextAge++
	r.setState(StateQueued)
	heap.Push(&q.items, r)
	close(q.signal)
	q.signal = make(chan struct{})
	q.mu.Unlock()

	if q.waiting.Load() == 0 && q.onShortage != nil {
		q.onShortage()
	}
	return true
}

// popMin removes and returns the minimum (priority, age) record, if any.
func (q *WaitQueue) popMin() (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	r := heap.Pop(&q.items).(*Record)
	return r, true
}

// peekMin returns (without removing) the minimum record, if any.
func (q *WaitQueue) peekMin() (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// PollTimed removes and returns the minimum record, waiting up to wait for
// one to appear. wait < 0 blocks indefinitely; wait == 0 never blocks;
// wait > 0 blocks at most that long, measured against monotonic time.
func (q *WaitQueue) PollTimed(wait time.Duration) (*Record, bool) {
	return q.waitFor(wait, q.popMin)
}

// PeekTimed is PollTimed without removal.
func (q *WaitQueue) PeekTimed(wait time.Duration) (*Record, bool) {
	return q.waitFor(wait, q.peekMin)
}

func (q *WaitQueue) waitFor(wait time.Duration, try func() (*Record, bool)) (*Record, bool) {
	if r, ok := try(); ok {
		return r, true
	}
	if wait == 0 {
		return nil, false
	}

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Grab the current broadcast channel before checking the queue:
		// any Offer after this point closes ch, so a record landing
		// between the check and the select cannot be missed.
		q.mu.Lock()
		ch := q.signal
		q.mu.Unlock()

		if r, ok := try(); ok {
			return r, true
		}

		q.waiting.Add(1)
		select {
		case <-ch:
			q.waiting.Add(-1)
		case <-deadline:
			q.waiting.Add(-1)
			// One last check: a record may have landed between the
			// timer firing and us observing it.
			return try()
		}
		// A wake is a broadcast, not a handoff: another waiter may have
		// taken the record first, so the loop re-checks before parking.
	}
}

// Remove deletes a specific record from the queue, used by cancellation.
// Returns true if the record was present and removed.
func (q *WaitQueue) Remove(r *Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.index < 0 || r.index >= len(q.items) || q.items[r.index] != r {
		return false
	}
	heap.Remove(&q.items, r.index)
	return true
}

// DrainSnapshot removes and returns every record currently queued, in
// (priority, age) order, as of one atomic instant. Used by Event.Trigger
// to dispatch exactly the waiters attached at the start of the trigger
// without holding the queue lock across user callbacks.
func (q *WaitQueue) DrainSnapshot() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Record, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*Record))
	}
	return out
}

// Length returns the current number of queued records.
func (q *WaitQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WaitingThreads returns the number of consumers currently blocked in
// PollTimed/PeekTimed.
func (q *WaitQueue) WaitingThreads() int {
	return int(q.waiting.Load())
}

// Clear drops every queued record, releasing references. Used on shutdown.
func (q *WaitQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
