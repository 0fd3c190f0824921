// Package task implements the Task lifecycle engine of spec.md §4.1: the
// per-tick run loop, deadline and overrun enforcement, event signalling
// and crash capture. Each Task owns its own clock and deadline
// enforcement so the Scheduler only needs to decide which task is
// eligible, not wake precisely on every deadline.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/Night-Traders-Dev/minRTOS/clock"
	"github.com/Night-Traders-Dev/minRTOS/rtmutex"
)

// UpdateFunc is the polymorphic "update" capability a Task invokes each
// tick. It may return an error to signal a Task execution error
// (spec.md §7); the scheduler never introspects this function beyond
// calling it.
type UpdateFunc func(ctx context.Context) error

// OverrunAction selects what happens when an iteration exceeds its
// deadline.
type OverrunAction int

const (
	// OverrunKill terminates the task on a deadline overrun.
	OverrunKill OverrunAction = iota
	// OverrunPause suspends the task (on its event signal) until
	// externally resumed. Only valid for event-driven tasks; spec.md
	// §4.1 step 7 says non-event tasks "cannot pause; treat as kill".
	OverrunPause
)

// State is a Task's lifecycle state (spec.md §3).
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateKilled
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateKilled:
		return "killed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// eventTimeout bounds how long an event-driven task's wait blocks before
// re-checking liveness, matching minTasks.py's `event.wait(timeout=0.1)`.
const eventTimeout = 100 * time.Millisecond

// tickYield is the brief sleep a not-yet-due periodic task takes between
// checks, matching spec.md §4.1 step 3 ("yield briefly (≤1 ms sleep)").
const tickYield = time.Millisecond

// EventSink receives task lifecycle notifications. Matches
// rtevent.Sink's Emit signature structurally.
type EventSink interface {
	Emit(kind, subject string, data map[string]interface{})
}

// Task is a single unit of schedulable work.
type Task struct {
	name   string
	update UpdateFunc

	period   time.Duration
	deadline time.Duration

	originalPriority int32
	overrunAction    OverrunAction
	eventDriven      bool
	maxRuns          uint64
	maxRunsArg       int
	maxRunsSet       bool

	clk    clock.Clock
	events EventSink

	metrics *clock.Metrics

	running     atomic.Bool
	nonEligible atomic.Bool
	state       atomic.Int32
	crashErr    atomic.Value // error

	nextRunMu sync.Mutex
	nextRun   time.Time

	eventCh chan struct{}

	boostMu sync.Mutex
	boosts  map[*rtmutex.Mutex]int

	heldMu sync.Mutex
	held   []*rtmutex.Mutex

	nextRunFn func(now time.Time) time.Time
}

// Option configures a Task at construction.
type Option func(*Task)

// WithPeriod sets the task's period; 0 (the default) means one-shot.
func WithPeriod(d time.Duration) Option { return func(t *Task) { t.period = d } }

// WithDeadline sets the task's deadline; 0 (the default) means none.
func WithDeadline(d time.Duration) Option { return func(t *Task) { t.deadline = d } }

// WithPriority sets the task's (original) priority. Larger values run
// first.
func WithPriority(p int) Option { return func(t *Task) { t.originalPriority = int32(p) } }

// WithOverrunAction sets the deadline-overrun response.
func WithOverrunAction(a OverrunAction) Option { return func(t *Task) { t.overrunAction = a } }

// WithEventDriven marks the task event-driven: it only runs when
// triggered rather than on a periodic tick.
func WithEventDriven() Option { return func(t *Task) { t.eventDriven = true } }

// WithMaxRuns caps the number of completed update() invocations. n must
// be >= 1; New rejects a lower value with ErrInvalidMaxRuns.
func WithMaxRuns(n int) Option {
	return func(t *Task) {
		t.maxRunsArg = n
		t.maxRunsSet = true
	}
}

// WithClock overrides the time source (primarily for tests).
func WithClock(c clock.Clock) Option { return func(t *Task) { t.clk = c } }

// WithEvents attaches an EventSink for lifecycle notifications.
func WithEvents(sink EventSink) Option { return func(t *Task) { t.events = sink } }

// WithNextRunFunc overrides how step 8 of the run loop (spec.md §4.1)
// computes the next absolute run instant after a completed iteration,
// replacing the default period-based formula. Used by the scheduler
// package's cron-expression-driven tasks (SPEC_FULL.md §C); most callers
// should use WithPeriod instead.
func WithNextRunFunc(fn func(now time.Time) time.Time) Option {
	return func(t *Task) { t.nextRunFn = fn }
}

// New constructs a Task. name, update and a non-negative period/priority
// are required; all else is optional.
func New(name string, update UpdateFunc, opts ...Option) (*Task, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if update == nil {
		return nil, ErrUpdateRequired
	}

	t := &Task{
		name:    name,
		update:  update,
		clk:     clock.System,
		metrics: clock.NewMetrics(),
		eventCh: make(chan struct{}, 1),
		boosts:  make(map[*rtmutex.Mutex]int),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.period < 0 {
		return nil, ErrNegativePeriod
	}
	if t.deadline < 0 {
		return nil, ErrNegativeDeadline
	}
	if t.originalPriority < 0 {
		return nil, ErrNegativePriority
	}
	if t.overrunAction == OverrunPause && !t.eventDriven {
		return nil, ErrPauseNotEventDriven
	}
	if t.maxRunsSet {
		if t.maxRunsArg < 1 {
			return nil, ErrInvalidMaxRuns
		}
		t.maxRuns = uint64(t.maxRunsArg)
	}

	t.nextRun = t.clk.Now()
	t.running.Store(true)
	return t, nil
}

// Reconstruct builds a fresh execution context from cfg, preserving the
// task's name and configuration but resetting next_run/run_count — the
// Supervisor's crash-restart contract (spec.md §4.5): "the new context
// does not inherit next_run or run_count."
func Reconstruct(name string, update UpdateFunc, opts ...Option) (*Task, error) {
	return New(name, update, opts...)
}

// --- identity & introspection -------------------------------------------------

// Name returns the task's unique identifier.
func (t *Task) Name() string { return t.name }

// Period returns the task's period (0 for one-shot).
func (t *Task) Period() time.Duration { return t.period }

// Deadline returns the task's deadline (0 for none).
func (t *Task) Deadline() time.Duration { return t.deadline }

// EventDriven reports whether the task is event-driven.
func (t *Task) EventDriven() bool { return t.eventDriven }

// MaxRuns returns the configured run cap, or 0 for unlimited.
func (t *Task) MaxRuns() uint64 { return t.maxRuns }

// OverrunAction returns the task's configured deadline-overrun response.
func (t *Task) OverrunAction() OverrunAction { return t.overrunAction }

// UpdateFunc returns the task's update callable, for a Supervisor
// restart that reconstructs an execution context around the same
// callable (spec.md §4.5).
func (t *Task) UpdateFunc() UpdateFunc { return t.update }

// EventSink returns the task's configured lifecycle event sink, if any.
func (t *Task) EventSink() EventSink { return t.events }

// NextRunFunc returns the task's WithNextRunFunc override, if any, so a
// Supervisor restart can carry a cron-driven task's scheduling function
// forward onto its fresh execution context.
func (t *Task) NextRunFunc() func(time.Time) time.Time { return t.nextRunFn }

// SetEvents attaches sink as the task's lifecycle event sink if none is
// already configured. Used by the scheduler package to wire its own
// event stream into tasks constructed without WithEvents.
func (t *Task) SetEvents(sink EventSink) {
	if t.events == nil {
		t.events = sink
	}
}

// Metrics returns the task's shared metrics record.
func (t *Task) Metrics() *clock.Metrics { return t.metrics }

// Running reports whether the task's execution context considers itself
// alive.
func (t *Task) Running() bool { return t.running.Load() }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// Err returns the execution error that caused a crash, if any.
func (t *Task) Err() error {
	v := t.crashErr.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// NextRun returns the task's next scheduled absolute instant.
func (t *Task) NextRun() time.Time {
	t.nextRunMu.Lock()
	defer t.nextRunMu.Unlock()
	return t.nextRun
}

// SetNextRun overrides the task's next scheduled absolute instant. This
// is exposed for scheduling enrichments (e.g. the scheduler package's
// cron-expression-driven tasks) that compute next_run from something
// other than a fixed period; the run loop itself never calls this.
func (t *Task) SetNextRun(v time.Time) { t.setNextRun(v) }

// OriginalPriority returns the task's construction-time priority, before
// any mutex boosts.
func (t *Task) OriginalPriority() int {
	return int(atomic.LoadInt32(&t.originalPriority))
}

// Priority returns the task's current effective priority: its original
// priority, or the highest active mutex boost, whichever is greater.
// This is the resolution of spec.md §9's multi-mutex composition Open
// Question: priority is tracked as a max over all active boosts rather
// than overwritten per mutex.
func (t *Task) Priority() int {
	t.boostMu.Lock()
	defer t.boostMu.Unlock()
	p := int(atomic.LoadInt32(&t.originalPriority))
	for _, b := range t.boosts {
		if b > p {
			p = b
		}
	}
	return p
}

// SetBoost implements rtmutex.Task: records that source wants this task
// to run at priority at least `priority`.
func (t *Task) SetBoost(source *rtmutex.Mutex, priority int) {
	t.boostMu.Lock()
	defer t.boostMu.Unlock()
	if cur, ok := t.boosts[source]; !ok || priority > cur {
		t.boosts[source] = priority
	}
}

// ClearBoost implements rtmutex.Task: removes any boost source applied.
func (t *Task) ClearBoost(source *rtmutex.Mutex) {
	t.boostMu.Lock()
	defer t.boostMu.Unlock()
	delete(t.boosts, source)
}

// AddHeldMutex implements rtmutex.Task.
func (t *Task) AddHeldMutex(m *rtmutex.Mutex) {
	t.heldMu.Lock()
	defer t.heldMu.Unlock()
	t.held = append(t.held, m)
}

// RemoveHeldMutex implements rtmutex.Task.
func (t *Task) RemoveHeldMutex(m *rtmutex.Mutex) {
	t.heldMu.Lock()
	defer t.heldMu.Unlock()
	for i, h := range t.held {
		if h == m {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return
		}
	}
}

// HeldMutexes returns a snapshot of the mutexes this task currently
// holds.
func (t *Task) HeldMutexes() []*rtmutex.Mutex {
	t.heldMu.Lock()
	defer t.heldMu.Unlock()
	out := make([]*rtmutex.Mutex, len(t.held))
	copy(out, t.held)
	return out
}

func (t *Task) releaseAllHeldMutexes() {
	for _, m := range t.HeldMutexes() {
		m.Release()
	}
}

// --- control -------------------------------------------------------------

// Trigger signals the task's event. Safe to call whether or not the task
// is currently waiting: signal-then-see semantics guarantee the next
// unblocked wait observes the signal at least once (spec.md §5).
func (t *Task) Trigger() {
	select {
	case t.eventCh <- struct{}{}:
	default:
	}
}

// SetNonEligible marks the task as (in)eligible for cooperative
// preemption: a non-eligible task's run loop skips invoking update() on
// its next tick(s) without tearing down its execution context. This is
// the "Cooperative" preemption mode resolved in SPEC_FULL.md §E.1.
func (t *Task) SetNonEligible(v bool) { t.nonEligible.Store(v) }

// Stop requests cooperative termination: it clears running and wakes any
// blocked wait. The caller must still await the execution context's exit
// (e.g. via a done channel or goroutine join) before assuming mutexes are
// released; Run releases all held mutexes as its final act.
func (t *Task) Stop() {
	t.running.Store(false)
	t.Trigger()
}

// MarkRemoved transitions the task to the Removed lifecycle state
// (spec.md §3). Callers must ensure the execution context has already
// exited; the scheduler calls this after RemoveTask's stopEntry
// completes, distinguishing a deliberate removal from a Killed task
// eligible for Supervisor restart.
func (t *Task) MarkRemoved() { t.state.Store(int32(StateRemoved)) }

// --- run loop --------------------------------------------------------------

// Run executes the task's lifecycle loop until Stop is called, ctx is
// cancelled, or the task terminates itself (max runs reached, an update
// error, or a deadline overrun with overrunAction==kill). It implements
// spec.md §4.1 steps 1-9.
func (t *Task) Run(ctx context.Context) {
	defer t.releaseAllHeldMutexes()

	for t.running.Load() {
		select {
		case <-ctx.Done():
			t.running.Store(false)
			return
		default:
		}

		// Step 1: max_runs cap.
		if t.maxRuns > 0 && t.metrics.RunCount() >= t.maxRuns {
			t.running.Store(false)
			t.state.Store(int32(StateKilled))
			return
		}

		// Step 2: event-driven wait.
		if t.eventDriven {
			if !t.waitEvent(ctx, eventTimeout) {
				continue
			}
			if !t.running.Load() {
				return
			}
		}

		// Step 3: not yet due.
		now := t.clk.Now()
		if now.Before(t.NextRun()) {
			time.Sleep(tickYield)
			continue
		}

		if t.nonEligible.Load() {
			// Cooperative preemption: skip this tick without tearing
			// down the execution context.
			time.Sleep(tickYield)
			continue
		}

		// Step 4: invoke update().
		start := t.clk.Now()
		err := t.safeInvoke(ctx)
		end := t.clk.Now()
		execTime := end.Sub(start)

		// Step 5: metrics.
		t.metrics.RecordRun(execTime, t.period, t.memoryEstimate())

		// Step 6: execution error.
		if err != nil {
			t.metrics.IncrMissedDeadlines()
			t.crashErr.Store(err)
			t.emit("com.minrtos.task.crashed", map[string]interface{}{"error": err.Error()})
			t.running.Store(false)
			t.state.Store(int32(StateKilled))
			return
		}

		// Step 7: deadline overrun.
		if t.deadline > 0 && execTime > t.deadline {
			t.metrics.IncrMissedDeadlines()
			t.emit("com.minrtos.task.deadline_missed", map[string]interface{}{"exec_time": execTime.String()})

			switch {
			case t.overrunAction == OverrunKill, !t.eventDriven:
				t.running.Store(false)
				t.state.Store(int32(StateKilled))
				t.emit("com.minrtos.task.killed", map[string]interface{}{"reason": "deadline_overrun"})
				return
			default: // OverrunPause on an event-driven task
				t.state.Store(int32(StatePaused))
				t.emit("com.minrtos.task.paused", nil)
				t.waitEvent(ctx, 0)
				t.state.Store(int32(StateRunning))
				if !t.running.Load() {
					return
				}
			}
		}

		// Step 8: compute next_run.
		t.setNextRun(t.computeNextRun(end))

		// Step 9: run_count is maintained by clock.Metrics.RecordRun.
	}
}

func (t *Task) computeNextRun(now time.Time) time.Time {
	if t.nextRunFn != nil {
		return t.nextRunFn(now)
	}
	if t.period > 0 {
		return now.Add(t.period)
	}
	return now
}

func (t *Task) setNextRun(v time.Time) {
	t.nextRunMu.Lock()
	t.nextRun = v
	t.nextRunMu.Unlock()
}

// waitEvent blocks until the task's event fires, timeout elapses (0
// means wait forever), or the task stops. It returns true if the event
// fired.
func (t *Task) waitEvent(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-t.eventCh:
			return true
		case <-ctx.Done():
			t.running.Store(false)
			return false
		}
	}
	select {
	case <-t.eventCh:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		t.running.Store(false)
		return false
	}
}

// safeInvoke calls update(), converting a panic into an execution error
// so languages-without-unwinding-style propagation (spec.md §9) is
// honored via the same explicit-result path as a returned error.
func (t *Task) safeInvoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s: execution panic: %v", t.name, r)
		}
	}()
	return t.update(ctx)
}

func (t *Task) memoryEstimate() uintptr {
	return unsafe.Sizeof(*t) + uintptr(len(t.metrics.History()))*unsafe.Sizeof(time.Duration(0))
}

func (t *Task) emit(kind string, data map[string]interface{}) {
	if t.events == nil {
		return
	}
	t.events.Emit(kind, t.name, data)
}
