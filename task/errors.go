package task

import "errors"

// Construction and lifecycle errors.
var (
	ErrNameRequired       = errors.New("task: name is required")
	ErrUpdateRequired     = errors.New("task: update function is required")
	ErrNegativePeriod     = errors.New("task: period must be >= 0")
	ErrNegativeDeadline   = errors.New("task: deadline must be >= 0")
	ErrNegativePriority   = errors.New("task: priority must be >= 0")
	ErrInvalidMaxRuns     = errors.New("task: max runs must be >= 1 when set")
	ErrPauseNotEventDriven = errors.New("task: overrun action 'pause' requires an event-driven task")
)
