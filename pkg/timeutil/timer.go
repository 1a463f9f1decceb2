package timeutil

import (
	"time"
)

// StopAndDrainTimer stops a timer and performs a non-blocking drain on its
// channel. This allows a timer to be stopped and drained without any knowledge
// of its current state.
func StopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// NowNanoseconds returns the current wall-clock time as nanoseconds since the
// Unix epoch, the same scale as file modification times, which hot-dep
// detection compares it against. It is not a monotonic clock reading.
func NowNanoseconds() int64 {
	return time.Now().UnixNano()
}
