package dispatch

import (
	"sync"
	"time"
	"weak"

	"github.com/flywheel-go/dispatch/core"
)

// The process-wide default TaskQueue is held only weakly, so it can be
// collected once nothing holds a strong reference to it, and is
// transparently rebuilt on next access rather than living forever just
// because it was touched once.
var (
	defaultMu   sync.Mutex
	defaultWeak weak.Pointer[TaskQueue]
)

// Default returns the process-wide default TaskQueue, constructing it on
// first use (or after it has been collected) and strongly pinning it only
// for the duration of this call's caller holding the returned pointer.
func Default() *TaskQueue {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if tq := defaultWeak.Value(); tq != nil {
		return tq
	}

	tq := NewTaskQueue("default", -1, 30*time.Second, core.DefaultConfig())
	defaultWeak = weak.Make(tq)
	return tq
}
