// Package clock provides the monotonic time source and per-task resource
// counters shared by the rest of minRTOS.
package clock

import "time"

// Clock abstracts the monotonic time source a Task or Scheduler reads from.
// The default implementation wraps time.Now; tests may substitute a fake
// clock to drive deterministic tick sequences.
type Clock interface {
	Now() time.Time
}

// Real is the Clock backed by the OS monotonic clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// System is the default Clock used when none is supplied.
var System Clock = Real{}
