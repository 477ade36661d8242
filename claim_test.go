package dispatch

import (
	"testing"

	"github.com/flywheel-go/dispatch/core"
)

// TestClaim_ReleaseCallsUnderlyingRelease verifies Release invokes the
// wrapped release function exactly once.
func TestClaim_ReleaseCallsUnderlyingRelease(t *testing.T) {
	var calls int
	c := newClaim(func() { calls++ }, nil, "owner")

	if !c.Active() {
		t.Fatal("Active() = false immediately after construction")
	}

	c.Release()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if c.Active() {
		t.Error("Active() = true after Release")
	}
}

// TestClaim_DoubleReleaseIsNoop verifies a second Release does not invoke
// the underlying release function again.
func TestClaim_DoubleReleaseIsNoop(t *testing.T) {
	var calls int
	c := newClaim(func() { calls++ }, nil, "owner")

	c.Release()
	c.Release()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second Release must be a no-op)", calls)
	}
}

// TestResourceClaim_ReleaseReturnsResourceToPool verifies ResourceClaim's
// handle returns its resource to the pool on Release.
func TestResourceClaim_ReleaseReturnsResourceToPool(t *testing.T) {
	pool := NewResourcePool("p", fakeFactory(func(priority int, cancel *core.CancelToken) (*fakeResource, error) {
		return &fakeResource{}, nil
	}, nil), 1, -1, nil)
	defer pool.Shutdown()

	handle, err := ResourceClaim(pool, 0, nil)
	if err != nil {
		t.Fatalf("ResourceClaim err = %v, want nil", err)
	}
	if handle.Resource == nil {
		t.Fatal("handle.Resource = nil")
	}

	handle.Release()

	if stats := pool.Stats(); stats.Idle != 1 {
		t.Errorf("Idle after Release = %d, want 1", stats.Idle)
	}
}
