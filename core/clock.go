package core

import "time"

// Clock abstracts monotonic time, in microseconds. SystemClock wraps the
// runtime's monotonic time.Time arithmetic, never wall-clock subtraction.
type Clock interface {
	// NowMicros returns a monotonically increasing microsecond timestamp.
	// Only differences between two NowMicros values are meaningful.
	NowMicros() int64
}

// SystemClock is the default Clock, backed by time.Now's monotonic reading.
type SystemClock struct{}

var epoch = time.Now()

// NowMicros returns microseconds elapsed since process start.
func (SystemClock) NowMicros() int64 {
	return time.Since(epoch).Microseconds()
}

// DefaultClock is the package-wide SystemClock instance.
var DefaultClock Clock = SystemClock{}
