// Package scheduler implements the registry, policy evaluation,
// preemption loop and crash-restart supervision of spec.md §4.4-§4.5:
// the Scheduler component that owns every registered Task's execution
// context and mailbox.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/Night-Traders-Dev/minRTOS/mailbox"
	"github.com/Night-Traders-Dev/minRTOS/rtevent"
	"github.com/Night-Traders-Dev/minRTOS/task"
)

// entry is the Scheduler's bookkeeping for one registered task: its
// current execution context (cancelable, with a done signal) alongside
// the Task value itself. Entries are replaced wholesale on a Supervisor
// restart, preserving the registry key but not the execution context.
type entry struct {
	task   *task.Task
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler is the registry + policy evaluator + preemption loop +
// Supervisor of spec.md §4.4-§4.5. It is an explicit value passed to
// user code, never a process-global (spec.md §9's "Global singletons"
// design note).
type Scheduler struct {
	cfg        Config
	policyMode PreemptionMode

	mu      sync.Mutex
	tasks   map[string]*entry
	policy  Policy
	running bool

	bus    *mailbox.Bus
	events *rtevent.Stream
	logger *zap.SugaredLogger
	super  *supervisor

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithLogger attaches a logger; a nil logger silently disables logging,
// matching the teacher's `if s.logger != nil` guard pattern throughout.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithEventStream attaches an existing rtevent.Stream instead of letting
// New create one, so external collaborators (a log sink, a metrics
// exporter) can subscribe before the Scheduler starts emitting.
func WithEventStream(stream *rtevent.Stream) Option {
	return func(s *Scheduler) { s.events = stream }
}

// New constructs a Scheduler from cfg. The scheduling policy starts at
// cfg.Policy; preemption mode and every other tunable come from cfg too.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	policy, err := cfg.policy()
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		policy:     policy,
		policyMode: cfg.preemption(),
		tasks:      make(map[string]*entry),
		bus:        mailbox.NewBus(cfg.MailboxCapacity),
		super:      newSupervisor(cfg.RestartRatePerMinute),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = rtevent.New("minrtos.scheduler", s.logger)
	}
	return s, nil
}

// Policy returns the scheduler's current scheduling policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Events returns the Scheduler's lifecycle event stream, for
// subscribing external collaborators (spec.md §1's out-of-scope sinks).
func (s *Scheduler) Events() *rtevent.Stream { return s.events }

// AddTask registers t, starts its execution context and its mailbox,
// per spec.md §4.4's add_task. Re-registering an already-known name is
// rejected (spec.md §6: "idempotent under same name is forbidden").
func (s *Scheduler) AddTask(t *task.Task) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := s.tasks[t.Name()]; exists {
		s.mu.Unlock()
		s.events.Emit(s.ctx, rtevent.KindDuplicateRegistration, t.Name(), nil)
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
	}

	t.SetEvents(s.events.AsSink())
	s.bus.Register(t.Name())
	e := s.startEntry(t)
	s.tasks[t.Name()] = e
	s.mu.Unlock()

	s.events.Emit(s.ctx, rtevent.KindTaskAdded, t.Name(), nil)
	s.notify()
	return nil
}

// startEntry builds a fresh execution context for t and spawns its run
// loop, returning the bookkeeping entry. Callers must hold s.mu.
func (s *Scheduler) startEntry(t *task.Task) *entry {
	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{task: t, cancel: cancel, done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(e.done)
		t.Run(ctx)
	}()
	return e
}

// RemoveTask deregisters name, requesting cooperative termination and
// escalating to forced cancellation after cfg.ShutdownGrace, per
// spec.md §4.4's remove_task and §7's "non-terminating task" escalation.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	delete(s.tasks, name)
	s.mu.Unlock()

	err := s.stopEntry(name, e)
	e.task.MarkRemoved()
	s.bus.Unregister(name)
	s.events.Emit(s.ctx, rtevent.KindTaskRemoved, name, nil)
	s.notify()
	return err
}

// stopEntry requests graceful termination of e, force-cancelling it if
// it has not exited within cfg.ShutdownGrace. A non-nil error reports
// the escalation per spec.md §7's "non-terminating task" error kind.
func (s *Scheduler) stopEntry(name string, e *entry) error {
	e.task.Stop()
	select {
	case <-e.done:
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
	}
	if s.logger != nil {
		s.logger.Warnw("task did not terminate within grace period, forcing cancellation", "task", name)
	}
	e.cancel()
	<-e.done
	return fmt.Errorf("scheduler: task %s required forced cancellation after %s", name, s.cfg.ShutdownGrace)
}

// TriggerTask signals the event of an event-driven task. An unknown
// name is a no-op per spec.md §7.
func (s *Scheduler) TriggerTask(name string) {
	s.mu.Lock()
	e, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		if s.logger != nil {
			s.logger.Warnw("trigger_task: unknown task", "task", name)
		}
		return
	}
	e.task.Trigger()
}

// SendMessage enqueues msg to name's mailbox.
func (s *Scheduler) SendMessage(name string, msg interface{}) error {
	return s.bus.Send(name, msg)
}

// ReceiveMessage returns the next message queued for name, if any.
func (s *Scheduler) ReceiveMessage(name string) (interface{}, bool) {
	return s.bus.Recv(name)
}

// Reschedule is the external reschedule entry point of spec.md §4.4: an
// interrupt handler or any other collaborator calls this to wake the
// preemption loop immediately instead of waiting for its next tick.
func (s *Scheduler) Reschedule() {
	s.events.Emit(s.ctx, rtevent.KindInterruptReceived, "", nil)
	s.notify()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins the preemption loop in its own goroutine. Calling Start
// twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Infow("scheduler started", "policy", s.policy.String())
	}
	s.events.Emit(s.ctx, rtevent.KindSchedulerStarted, "", map[string]interface{}{"policy": s.policy.String()})

	s.wg.Add(1)
	go s.preemptionLoop()
}

// StopAll clears running, terminates every task with grace→kill, and
// clears the registry, per spec.md §4.4's stop_all.
func (s *Scheduler) StopAll() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	entries := make(map[string]*entry, len(s.tasks))
	for name, e := range s.tasks {
		entries[name] = e
	}
	s.tasks = make(map[string]*entry)
	s.mu.Unlock()

	var result *multierror.Error
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, e := range entries {
		wg.Add(1)
		go func(name string, e *entry) {
			defer wg.Done()
			if err := s.stopEntry(name, e); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			e.task.MarkRemoved()
			s.bus.Unregister(name)
		}(name, e)
	}
	wg.Wait()

	s.cancel()
	s.events.Emit(context.Background(), rtevent.KindSchedulerStopped, "", nil)
	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

// Join blocks until every task execution context and the preemption
// loop have exited.
func (s *Scheduler) Join() {
	s.wg.Wait()
}

// preemptionLoop is the dedicated scheduling context of spec.md §4.4: it
// wakes on a bounded timeout or an explicit Reschedule, runs the dynamic
// policy switch, ranks tasks by the active policy, marks every task
// other than the most eligible one non-eligible under cooperative
// preemption (or stops it under strict preemption), then runs the
// Supervisor pass.
func (s *Scheduler) preemptionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}

		s.tick()
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	tasks := make([]*task.Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		tasks = append(tasks, e.task)
	}

	next := dynamicPolicySwitch(tasks)
	if next != s.policy {
		prev := s.policy
		s.policy = next
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Infow("scheduling policy changed", "from", prev.String(), "to", next.String())
		}
		s.events.Emit(s.ctx, rtevent.KindPolicyChanged, "", map[string]interface{}{
			"from": prev.String(),
			"to":   next.String(),
		})
		s.mu.Lock()
	}

	policy := s.policy
	ranked := rankTasks(policy, tasks)
	entries := make(map[string]*entry, len(s.tasks))
	for name, e := range s.tasks {
		entries[name] = e
	}
	s.mu.Unlock()

	s.applyPreemption(ranked)
	s.monitorTasks(entries)
}

// applyPreemption marks every task other than the head of ranked
// non-eligible (cooperative) or stopped (strict), per spec.md §4.4 step
// 4 and the Open Question resolved in SPEC_FULL.md §E.1.
func (s *Scheduler) applyPreemption(ranked []*task.Task) {
	if len(ranked) == 0 {
		return
	}
	eligible := ranked[0]
	for _, t := range ranked {
		if t == eligible {
			t.SetNonEligible(false)
			continue
		}
		switch s.policyMode {
		case PreemptionStrict:
			t.Stop()
		default:
			t.SetNonEligible(true)
		}
	}
}

// monitorTasks implements the Supervisor (spec.md §4.5): any entry
// whose execution context has exited because of an uncaught crash (as
// opposed to remove_task, max_runs, or kill-on-overrun) is replaced with
// a fresh execution context that preserves name and configuration but
// not next_run/run_count.
func (s *Scheduler) monitorTasks(entries map[string]*entry) {
	for name, e := range entries {
		select {
		case <-e.done:
		default:
			continue // still alive
		}

		t := e.task
		if !shouldRestart(t) {
			continue
		}

		if !s.super.allow(name) {
			s.events.Emit(s.ctx, rtevent.KindTaskRestartThrottled, name, nil)
			continue
		}

		fresh, err := s.rebuildTask(t)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorw("supervisor: failed to rebuild crashed task", "task", name, "error", err)
			}
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.bus.Register(name)
		newEntry := s.startEntry(fresh)
		s.tasks[name] = newEntry
		s.mu.Unlock()

		s.events.Emit(s.ctx, rtevent.KindTaskRestarted, name, nil)
	}
}

// rebuildTask constructs a new execution context for a crashed task,
// preserving name, update callable, period, priority, deadline, overrun
// action, event-driven flag and max_runs, matching spec.md §4.5's
// restart contract exactly.
func (s *Scheduler) rebuildTask(old *task.Task) (*task.Task, error) {
	opts := []task.Option{
		task.WithPeriod(old.Period()),
		task.WithDeadline(old.Deadline()),
		task.WithPriority(old.OriginalPriority()),
		task.WithOverrunAction(old.OverrunAction()),
	}
	if n := old.MaxRuns(); n > 0 {
		opts = append(opts, task.WithMaxRuns(int(n)))
	}
	if old.EventDriven() {
		opts = append(opts, task.WithEventDriven())
	}
	if sink := old.EventSink(); sink != nil {
		opts = append(opts, task.WithEvents(sink))
	}
	if fn := old.NextRunFunc(); fn != nil {
		opts = append(opts, task.WithNextRunFunc(fn))
	}
	return task.Reconstruct(old.Name(), old.UpdateFunc(), opts...)
}
