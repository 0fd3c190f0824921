package scheduler

import "errors"

var (
	// ErrDuplicateTask is returned by AddTask when a task with the same
	// name is already registered (spec.md §6: "idempotent under same
	// name is forbidden").
	ErrDuplicateTask = errors.New("scheduler: task with this name already registered")

	// ErrShuttingDown is returned by AddTask whenever the scheduler is
	// not running: before Start and once StopAll has been called
	// (spec.md §7: "Shutdown-in-progress").
	ErrShuttingDown = errors.New("scheduler: add_task rejected, scheduler is shutting down")

	// ErrUnknownTask is returned by RemoveTask for a task name that is
	// not registered. TriggerTask and SendMessage treat an unknown name
	// as a no-op instead.
	ErrUnknownTask = errors.New("scheduler: unknown task")

	// ErrInvalidPolicy is returned when constructing a Scheduler with an
	// unrecognized policy.
	ErrInvalidPolicy = errors.New("scheduler: invalid scheduling policy")
)
