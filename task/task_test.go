package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Night-Traders-Dev/minRTOS/rtmutex"
)

func TestTaskSimplePeriodicMaxRuns(t *testing.T) {
	var count int64
	tk, err := New("T", func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	}, WithPeriod(10*time.Millisecond), WithMaxRuns(3))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { tk.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not terminate after reaching max runs")
	}

	require.EqualValues(t, 3, tk.Metrics().RunCount())
	require.EqualValues(t, 0, tk.Metrics().MissedDeadlines())
	require.False(t, tk.Running())
	require.Equal(t, StateKilled, tk.State())
}

func TestTaskDeadlineKill(t *testing.T) {
	tk, err := New("T", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}, WithPeriod(10*time.Millisecond), WithDeadline(5*time.Millisecond), WithOverrunAction(OverrunKill))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { tk.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not terminate after deadline overrun")
	}

	require.GreaterOrEqual(t, tk.Metrics().MissedDeadlines(), uint64(1))
	require.False(t, tk.Running())
}

func TestTaskExecutionErrorCrashesTask(t *testing.T) {
	wantErr := errors.New("boom")
	tk, err := New("T", func(ctx context.Context) error {
		return wantErr
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { tk.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not terminate after update error")
	}

	require.False(t, tk.Running())
	require.ErrorIs(t, tk.Err(), wantErr)
	require.EqualValues(t, 1, tk.Metrics().MissedDeadlines())
}

func TestTaskEventDrivenOnlyRunsOnTrigger(t *testing.T) {
	var count int64
	tk, err := New("E", func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	}, WithEventDriven())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go tk.Run(ctx)

	time.Sleep(250 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt64(&count), "event-driven task must not run without a trigger")

	tk.Trigger()
	require.Eventually(t, func() bool { return atomic.LoadInt64(&count) >= 1 }, time.Second, time.Millisecond)

	tk.Stop()
	cancel()
}

func TestTaskPanicIsCapturedAsCrash(t *testing.T) {
	tk, err := New("T", func(ctx context.Context) error {
		panic("kaboom")
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { tk.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not terminate after panic")
	}
	require.Error(t, tk.Err())
	require.Contains(t, tk.Err().Error(), "kaboom")
}

func TestTaskStopReleasesHeldMutexes(t *testing.T) {
	tk, err := New("T", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}, WithPeriod(5*time.Millisecond))
	require.NoError(t, err)

	m := rtmutex.New(true)
	require.True(t, m.Acquire(tk, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tk.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	tk.Stop()
	require.Eventually(t, func() bool { return !tk.Running() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return m.Owner() == nil }, time.Second, time.Millisecond)
	require.Empty(t, tk.HeldMutexes())
}

func TestPauseOverrunRequiresEventDriven(t *testing.T) {
	_, err := New("T", func(ctx context.Context) error { return nil }, WithOverrunAction(OverrunPause))
	require.ErrorIs(t, err, ErrPauseNotEventDriven)
}

func TestNewRejectsMissingFields(t *testing.T) {
	_, err := New("", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrNameRequired)

	_, err = New("T", nil)
	require.ErrorIs(t, err, ErrUpdateRequired)
}

func TestNewRejectsInvalidMaxRuns(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	_, err := New("T", noop, WithMaxRuns(0))
	require.ErrorIs(t, err, ErrInvalidMaxRuns)

	_, err = New("T", noop, WithMaxRuns(-1))
	require.ErrorIs(t, err, ErrInvalidMaxRuns)

	tk, err := New("T", noop)
	require.NoError(t, err)
	require.Equal(t, uint64(0), tk.MaxRuns())

	tk, err = New("T", noop, WithMaxRuns(3))
	require.NoError(t, err)
	require.Equal(t, uint64(3), tk.MaxRuns())
}
