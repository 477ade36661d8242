package core

import (
	"sort"
	"sync"
)

// CancelToken is the cancellation-token abstraction: Connect/Disconnect a
// callback, query IsCancelled, and a "raise if cancelled" helper. A token
// may be signalled at any time, including before it is ever attached to
// anything; Connect on an already-cancelled token fires the callback
// immediately (in-line), so nobody can race a Connect against a Cancel
// that already happened.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	nextID    int64
	subs      map[int64]func()
}

// NewCancelToken returns a fresh, unfired token.
func NewCancelToken() *CancelToken {
	return &CancelToken{subs: make(map[int64]func())}
}

// Connect registers callback to run when the token is cancelled, returning
// a handle usable with Disconnect. If the token is already cancelled,
// callback runs synchronously before Connect returns and the returned
// handle is inert (Disconnect on it is a no-op).
func (t *CancelToken) Connect(callback func()) int64 {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		callback()
		return 0
	}
	t.nextID++
	id := t.nextID
	t.subs[id] = callback
	t.mu.Unlock()
	return id
}

// Disconnect removes a previously Connect-ed callback. No-op if id is
// unknown (already fired, already disconnected, or the inert 0 handle).
func (t *CancelToken) Disconnect(id int64) {
	if id == 0 {
		return
	}
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}

// IsCancelled reports whether Cancel has been called.
func (t *CancelToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// RaiseIfCancelled returns ErrCancelled if the token has fired, nil
// otherwise.
func (t *CancelToken) RaiseIfCancelled() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// Cancel fires the token exactly once: every currently connected callback
// runs (in connection order), and the token is marked cancelled so future
// Connect calls fire immediately. Calling Cancel more than once is a no-op
// after the first call.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	// Subscription ids are assigned in increasing order, so sorting them
	// recovers connection order.
	ids := make([]int64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subs[id]()
	}
}
