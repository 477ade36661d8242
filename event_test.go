package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flywheel-go/dispatch/core"
)

// TestEvent_Execute_ReceivesPayload verifies a waiter attached via Execute
// unblocks with the exact payload passed to Trigger.
func TestEvent_Execute_ReceivesPayload(t *testing.T) {
	ev := NewEvent("e", true, nil)

	done := make(chan struct{})
	var got any
	go func() {
		v, err := ev.Execute(func(payload any) (any, error) { return payload, nil }, 0, nil)
		if err != nil {
			t.Errorf("Execute err = %v, want nil", err)
		}
		got = v
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	ev.Trigger("hello")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute never returned after Trigger")
	}
	if got != "hello" {
		t.Errorf("payload received = %v, want \"hello\"", got)
	}
}

// TestEvent_Execute_OneShot verifies an Execute waiter only fires once: after
// its first Trigger resolves it, it is no longer attached to the event.
func TestEvent_Execute_OneShot(t *testing.T) {
	ev := NewEvent("e", true, nil)

	first := make(chan struct{})
	go func() {
		ev.Execute(func(payload any) (any, error) { return payload, nil }, 0, nil)
		close(first)
	}()
	time.Sleep(20 * time.Millisecond)
	ev.Trigger(1)

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first Execute never resolved")
	}

	// A waiter that already resolved must not still be attached.
	if ev.waiters.Length() != 0 {
		t.Errorf("waiters.Length() after one-shot resolution = %d, want 0", ev.waiters.Length())
	}
}

// TestEvent_Trigger_DispatchesInPriorityOrder verifies Trigger dispatches
// waiters in (priority, age) order, matching the underlying wait-queue.
func TestEvent_Trigger_DispatchesInPriorityOrder(t *testing.T) {
	ev := NewEvent("e", true, nil)

	var mu sync.Mutex
	var order []int
	attach := func(priority int) {
		ev.Add(func(payload any) bool {
			mu.Lock()
			order = append(order, priority)
			mu.Unlock()
			return false
		}, priority, nil, syncIdle{})
	}
	attach(5)
	attach(0)
	attach(2)

	ev.Trigger(nil)

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 2, 5}
	if len(order) != 3 {
		t.Fatalf("len(order) = %d, want 3 (got %v)", len(order), order)
	}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("order[%d] = %d, want %d", i, order[i], w)
		}
	}
}

// TestEvent_Add_Rearms verifies an Add subscriber that returns true stays
// attached across multiple triggers.
func TestEvent_Add_Rearms(t *testing.T) {
	ev := NewEvent("e", true, nil)

	var calls int
	ev.Add(func(payload any) bool {
		calls++
		return calls < 3
	}, 0, nil, syncIdle{})

	ev.Trigger(nil)
	ev.Trigger(nil)
	ev.Trigger(nil)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if ev.waiters.Length() != 0 {
		t.Errorf("waiters.Length() after detaching = %d, want 0", ev.waiters.Length())
	}
}

// TestEvent_ExecuteAsync_BothWaitersGetPayload verifies two async waiters
// registered before a trigger both resume, via the host loop, with the
// trigger's payload.
func TestEvent_ExecuteAsync_BothWaitersGetPayload(t *testing.T) {
	ev := NewEvent("e", true, nil)
	loop := NewHostLoop()

	var got []any
	mapper := func(payload any) (any, error) { return payload, nil }
	reply := func(v any, err error) {
		if err != nil {
			t.Errorf("reply err = %v, want nil", err)
		}
		got = append(got, v)
	}

	ev.ExecuteAsync(mapper, 0, nil, loop, reply)
	ev.ExecuteAsync(mapper, 0, nil, loop, reply)

	ev.Trigger("Foo")
	for loop.Pump(context.Background()) {
	}

	if len(got) != 2 {
		t.Fatalf("replies delivered = %d, want 2 (got %v)", len(got), got)
	}
	for i, v := range got {
		if v != "Foo" {
			t.Errorf("got[%d] = %v, want \"Foo\"", i, v)
		}
	}
}

// TestEvent_CancelRemovesWaiter verifies a cancelled waiter's callback never
// runs on a subsequent Trigger.
func TestEvent_CancelRemovesWaiter(t *testing.T) {
	ev := NewEvent("e", true, nil)
	tok := core.NewCancelToken()

	var ran bool
	ev.Add(func(payload any) bool { ran = true; return false }, 0, tok, syncIdle{})
	tok.Cancel()

	ev.Trigger(nil)
	if ran {
		t.Error("cancelled waiter's callback ran")
	}
}

// TestEvent_Trigger_PanickingWaiterDoesNotAbortDispatch verifies one
// panicking waiter neither propagates out of Trigger nor prevents the
// remaining waiters in the same snapshot from being dispatched.
func TestEvent_Trigger_PanickingWaiterDoesNotAbortDispatch(t *testing.T) {
	ev := NewEvent("e", true, &core.Config{PanicHandler: quietPanicHandler{}})

	var ran []int
	ev.Add(func(payload any) bool { ran = append(ran, 1); return false }, 1, nil, syncIdle{})
	ev.Add(func(payload any) bool { panic("boom") }, 2, nil, syncIdle{})
	ev.Add(func(payload any) bool { ran = append(ran, 3); return false }, 3, nil, syncIdle{})

	ev.Trigger(nil) // must not panic

	if len(ran) != 2 || ran[0] != 1 || ran[1] != 3 {
		t.Errorf("surviving waiters ran = %v, want [1 3]", ran)
	}
	if ev.waiters.Length() != 0 {
		t.Errorf("waiters.Length() = %d, want 0 (panicking waiter detached)", ev.waiters.Length())
	}
}

// quietPanicHandler swallows panics so expected-panic tests don't spam the
// test log.
type quietPanicHandler struct{}

func (quietPanicHandler) HandlePanic(string, int, any, []byte) {}

// TestEvent_Triggered verifies Triggered reflects the current state and
// autoReset clears it after dispatch completes.
func TestEvent_Triggered(t *testing.T) {
	ev := NewEvent("e", true, nil)
	if ev.Triggered() {
		t.Fatal("Triggered() = true before any Trigger")
	}
	ev.Trigger(nil)
	if ev.Triggered() {
		t.Error("Triggered() = true after autoReset should have cleared it")
	}

	manual := NewEvent("e2", false, nil)
	manual.Trigger(nil)
	if !manual.Triggered() {
		t.Error("Triggered() = false with autoReset disabled, want true")
	}
}

// syncIdle is a minimal IdleScheduler that runs callbacks inline, used by
// tests that don't need to exercise HostLoop's own ordering.
type syncIdle struct{}

func (syncIdle) Schedule(priority int, cb func()) int64 { cb(); return 0 }
func (syncIdle) Cancel(id int64)                        {}
