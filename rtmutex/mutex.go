// Package rtmutex implements the priority-inheriting mutex of spec.md
// §4.2: acquire/release with FIFO waiters, boost-on-contention and
// restore-on-release, bounding priority inversion to the critical
// section of the current holder.
package rtmutex

import (
	"sync"
	"time"
)

// pollInterval is how often a blocked Acquire rechecks the critical
// section, mirroring minMutex.py's `time.sleep(0.01)` busy-wait — kept
// short here since Go tests run the whole suite in-process.
const pollInterval = 500 * time.Microsecond

// Task is the subset of task.Task that rtmutex needs in order to track
// ownership, waiters and priority boosts without importing the task
// package (which in turn holds a *Mutex per acquired lock).
type Task interface {
	// Name uniquely identifies the task.
	Name() string
	// Priority returns the task's current effective priority (its
	// original priority, or higher if boosted by one or more held
	// mutexes).
	Priority() int
	// SetBoost records that this Mutex wants the task to run at
	// priority at least `priority`. Implementations must keep the
	// task's effective priority as max(original, all active boosts) so
	// releasing one of several held mutexes never drops priority below
	// what another held mutex still demands (spec.md §9 Open Question).
	SetBoost(source *Mutex, priority int)
	// ClearBoost removes any boost this Mutex applied.
	ClearBoost(source *Mutex)
	// AddHeldMutex / RemoveHeldMutex maintain the task's held_mutexes
	// list (spec.md §3).
	AddHeldMutex(m *Mutex)
	RemoveHeldMutex(m *Mutex)
}

// EventSink receives mutex_boost/mutex_restore notifications. It is the
// minimal surface rtmutex needs from rtevent.Stream, kept as a local
// interface to avoid importing rtevent from this low-level package.
type EventSink interface {
	Emit(kind, subject string, data map[string]interface{})
}

// Mutex is a priority-inheriting lock. The zero value is not usable; use
// New.
type Mutex struct {
	mu sync.Mutex // guards everything below; the mutex's own critical section

	owner   Task
	waiters []Task // FIFO order of arrival

	enablePriorityInheritance bool
	events                    EventSink
}

// Option configures a Mutex at construction.
type Option func(*Mutex)

// WithEvents attaches an EventSink that receives mutex_boost/
// mutex_restore records.
func WithEvents(sink EventSink) Option {
	return func(m *Mutex) { m.events = sink }
}

// New creates a Mutex. enablePriorityInheritance matches spec.md's
// Mutex(enable_priority_inheritance?) constructor.
func New(enablePriorityInheritance bool, opts ...Option) *Mutex {
	m := &Mutex{enablePriorityInheritance: enablePriorityInheritance}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Owner returns the current owner, or nil if unlocked.
func (m *Mutex) Owner() Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Acquire attempts to become the owner of the mutex within timeout (zero
// means wait forever). It returns true iff task becomes the owner.
//
// Follows spec.md §4.2's acquire algorithm literally: if unlocked, take
// it immediately; otherwise join the FIFO waiter list (recomputing the
// boost each time through), and poll the critical section until either
// ownership is granted or timeout elapses.
func (m *Mutex) Acquire(task Task, timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		m.mu.Lock()
		if m.owner == nil {
			m.owner = task
			task.AddHeldMutex(m)
			m.removeWaiterLocked(task)
			m.mu.Unlock()
			return true
		}
		if m.owner == task {
			// Already the owner; spec.md does not define re-entrancy,
			// treat as a no-op success rather than deadlocking.
			m.mu.Unlock()
			return true
		}

		if !m.containsWaiterLocked(task) {
			m.waiters = append(m.waiters, task)
		}
		m.boostLocked()
		m.mu.Unlock()

		if !deadline.IsZero() && time.Now().After(deadline) {
			m.mu.Lock()
			m.removeWaiterLocked(task)
			m.mu.Unlock()
			return false
		}
		time.Sleep(pollInterval)
	}
}

// Release hands ownership to the highest-priority waiter (FIFO tie
// break), or clears ownership if none are waiting.
func (m *Mutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != nil {
		prevOwner := m.owner
		prevPriority := prevOwner.Priority()
		prevOwner.ClearBoost(m)
		prevOwner.RemoveHeldMutex(m)
		m.owner = nil
		if m.events != nil && prevOwner.Priority() != prevPriority {
			m.events.Emit("com.minrtos.mutex.restore", prevOwner.Name(), map[string]interface{}{
				"owner": prevOwner.Name(),
				"to":    prevOwner.Priority(),
			})
		}
	}

	if len(m.waiters) > 0 {
		next := m.highestPriorityWaiterLocked()
		m.removeWaiterLocked(next)
		m.owner = next
		next.AddHeldMutex(m)
		m.boostLocked()
	}
}

// highestPriorityWaiterLocked returns the waiter with the highest
// priority, breaking ties in FIFO (earliest-arrival) order. Caller must
// hold m.mu.
func (m *Mutex) highestPriorityWaiterLocked() Task {
	best := m.waiters[0]
	for _, w := range m.waiters[1:] {
		if w.Priority() > best.Priority() {
			best = w
		}
	}
	return best
}

// boostLocked recomputes and, if necessary, applies a priority boost to
// the current owner based on the highest-priority waiter. Caller must
// hold m.mu.
func (m *Mutex) boostLocked() {
	if !m.enablePriorityInheritance || m.owner == nil || len(m.waiters) == 0 {
		return
	}
	highest := m.waiters[0].Priority()
	for _, w := range m.waiters[1:] {
		if w.Priority() > highest {
			highest = w.Priority()
		}
	}
	if highest > m.owner.Priority() {
		from := m.owner.Priority()
		m.owner.SetBoost(m, highest)
		if m.events != nil {
			m.events.Emit("com.minrtos.mutex.boost", m.owner.Name(), map[string]interface{}{
				"owner": m.owner.Name(),
				"from":  from,
				"to":    highest,
			})
		}
	}
}

func (m *Mutex) containsWaiterLocked(task Task) bool {
	for _, w := range m.waiters {
		if w == task {
			return true
		}
	}
	return false
}

func (m *Mutex) removeWaiterLocked(task Task) {
	for i, w := range m.waiters {
		if w == task {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// WaiterCount returns the number of tasks currently waiting on the
// mutex, for tests and diagnostics.
func (m *Mutex) WaiterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
