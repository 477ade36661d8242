package dispatch

import (
	"context"
	"testing"
)

// TestHostLoop_Pump_RunsInPriorityOrder verifies Pump drains scheduled
// callbacks lowest-priority-value-first, FIFO within a priority.
func TestHostLoop_Pump_RunsInPriorityOrder(t *testing.T) {
	loop := NewHostLoop()
	var order []int
	record := func(p int) func() { return func() { order = append(order, p) } }

	loop.Schedule(5, record(5))
	loop.Schedule(0, record(0))
	loop.Schedule(5, record(5))
	loop.Schedule(2, record(2))

	ctx := context.Background()
	for loop.Pump(ctx) {
	}

	want := []int{0, 2, 5, 5}
	if len(order) != len(want) {
		t.Fatalf("len(order) = %d, want %d (got %v)", len(order), len(want), order)
	}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("order[%d] = %d, want %d", i, order[i], w)
		}
	}
}

// TestHostLoop_Cancel verifies a cancelled callback never runs.
func TestHostLoop_Cancel(t *testing.T) {
	loop := NewHostLoop()
	var ran bool
	id := loop.Schedule(0, func() { ran = true })
	loop.Cancel(id)

	if loop.Pump(context.Background()) {
		t.Error("Pump() = true, want false (nothing left to run)")
	}
	if ran {
		t.Error("cancelled callback ran")
	}
}

// TestHostLoop_Pump_RespectsCancelledContext verifies Pump refuses to start
// a callback once ctx is already cancelled.
func TestHostLoop_Pump_RespectsCancelledContext(t *testing.T) {
	loop := NewHostLoop()
	var ran bool
	loop.Schedule(0, func() { ran = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if loop.Pump(ctx) {
		t.Error("Pump(cancelled ctx) = true, want false")
	}
	if ran {
		t.Error("callback ran despite a cancelled context")
	}
	if loop.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (callback left pending)", loop.Len())
	}
}

// TestHostLoop_Len reports the number of pending callbacks.
func TestHostLoop_Len(t *testing.T) {
	loop := NewHostLoop()
	if loop.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", loop.Len())
	}
	loop.Schedule(0, func() {})
	loop.Schedule(0, func() {})
	if loop.Len() != 2 {
		t.Errorf("Len() = %d, want 2", loop.Len())
	}
	loop.Pump(context.Background())
	if loop.Len() != 1 {
		t.Errorf("Len() after one Pump = %d, want 1", loop.Len())
	}
}
