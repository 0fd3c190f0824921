package scheduler

import (
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/Night-Traders-Dev/minRTOS/task"
)

// supervisor implements spec.md §4.5: on each scheduling iteration, any
// registered task whose execution context has exited while it crashed
// (as opposed to a clean stop via remove_task, max_runs, or
// kill-on-overrun) is restarted with a fresh execution context that
// preserves name and configuration but not next_run/run_count.
//
// Restart rate is bounded per task by a catrate.Limiter, resolving
// spec.md §9's flapping Open Question per SPEC_FULL.md §C/§E.3.
type supervisor struct {
	limiter *catrate.Limiter
}

// newSupervisor builds a supervisor whose restart budget is
// ratePerMinute restarts per task per minute. ratePerMinute<=0 disables
// rate limiting (unbounded restarts).
func newSupervisor(ratePerMinute int) *supervisor {
	if ratePerMinute <= 0 {
		return &supervisor{}
	}
	return &supervisor{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Minute: ratePerMinute,
		}),
	}
}

// shouldRestart reports whether t's execution context exited in a way
// the Supervisor must replace: an uncaught execution error, not a
// cooperative stop (remove_task), max_runs completion, or a
// kill-on-overrun. All four clear t.Running() by the time Run returns,
// so the distinguishing signal is t.Err(): only a crash sets it.
func shouldRestart(t *task.Task) bool {
	return t.State() == task.StateKilled && t.Err() != nil
}

// allow consults the restart-rate budget for taskName. It always
// returns true when no limiter is configured.
func (s *supervisor) allow(taskName string) bool {
	if s.limiter == nil {
		return true
	}
	_, ok := s.limiter.Allow(taskName)
	return ok
}
