package rtmutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTask is a minimal rtmutex.Task used to test Mutex in isolation from
// the task package.
type fakeTask struct {
	mu       sync.Mutex
	name     string
	original int
	boosts   map[*Mutex]int
	held     map[*Mutex]struct{}
}

func newFakeTask(name string, priority int) *fakeTask {
	return &fakeTask{name: name, original: priority, boosts: map[*Mutex]int{}, held: map[*Mutex]struct{}{}}
}

func (f *fakeTask) Name() string { return f.name }

func (f *fakeTask) Priority() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.original
	for _, b := range f.boosts {
		if b > p {
			p = b
		}
	}
	return p
}

func (f *fakeTask) SetBoost(source *Mutex, priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.boosts[source]; !ok || priority > cur {
		f.boosts[source] = priority
	}
}

func (f *fakeTask) ClearBoost(source *Mutex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boosts, source)
}

func (f *fakeTask) AddHeldMutex(m *Mutex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[m] = struct{}{}
}

func (f *fakeTask) RemoveHeldMutex(m *Mutex) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, m)
}

func TestMutexUncontendedAcquireRelease(t *testing.T) {
	m := New(true)
	low := newFakeTask("low", 1)
	require.True(t, m.Acquire(low, 0))
	require.Equal(t, Task(low), m.Owner())
	m.Release()
	require.Nil(t, m.Owner())
}

func TestMutexBoostAndRestoreRoundTrip(t *testing.T) {
	m := New(true)
	low := newFakeTask("low", 1)
	high := newFakeTask("high", 5)

	require.True(t, m.Acquire(low, 0))

	done := make(chan bool, 1)
	go func() { done <- m.Acquire(high, time.Second) }()

	require.Eventually(t, func() bool { return low.Priority() == 5 }, time.Second, time.Millisecond)

	m.Release()
	require.True(t, <-done)
	require.Equal(t, Task(high), m.Owner())
	require.Equal(t, 1, low.Priority(), "low's priority must be restored to its original value")
}

func TestMutexAcquireTimeout(t *testing.T) {
	m := New(true)
	low := newFakeTask("low", 1)
	high := newFakeTask("high", 5)
	require.True(t, m.Acquire(low, 0))

	ok := m.Acquire(high, 20*time.Millisecond)
	require.False(t, ok)
	require.Equal(t, 0, m.WaiterCount(), "timed-out waiter must be removed from the waiter list")
}

func TestMutexFIFOTieBreakAmongEqualPriority(t *testing.T) {
	m := New(false)
	owner := newFakeTask("owner", 1)
	require.True(t, m.Acquire(owner, 0))

	a := newFakeTask("a", 3)
	b := newFakeTask("b", 3)

	aDone := make(chan bool, 1)
	bDone := make(chan bool, 1)
	go func() { aDone <- m.Acquire(a, time.Second) }()
	time.Sleep(10 * time.Millisecond) // ensure a joins the waiter list first
	go func() { bDone <- m.Acquire(b, time.Second) }()
	time.Sleep(10 * time.Millisecond)

	m.Release()
	require.True(t, <-aDone)
	require.Equal(t, Task(a), m.Owner(), "equal-priority waiters must be served FIFO")

	m.Release()
	require.True(t, <-bDone)
	require.Equal(t, Task(b), m.Owner())
}

func TestMutexNoPriorityInheritanceWhenDisabled(t *testing.T) {
	m := New(false)
	low := newFakeTask("low", 1)
	high := newFakeTask("high", 5)
	require.True(t, m.Acquire(low, 0))

	go m.Acquire(high, time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, low.Priority(), "priority inheritance disabled: owner must not be boosted")
	m.Release()
}
