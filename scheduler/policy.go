package scheduler

import (
	"math"

	"github.com/Night-Traders-Dev/minRTOS/task"
)

// Policy selects which scheduling discipline the preemption loop uses to
// rank runnable tasks (spec.md §4.4).
type Policy int

const (
	// PolicyEDF orders by nearest deadline.
	PolicyEDF Policy = iota
	// PolicyRMS orders by shortest period.
	PolicyRMS
	// PolicyFixed orders by (negated) static priority.
	PolicyFixed
)

func (p Policy) String() string {
	switch p {
	case PolicyEDF:
		return "EDF"
	case PolicyRMS:
		return "RMS"
	case PolicyFixed:
		return "FIXED"
	default:
		return "UNKNOWN"
	}
}

// PreemptionMode selects how the preemption loop treats non-eligible
// tasks, resolving spec.md §9's Open Question per SPEC_FULL.md §E.1.
type PreemptionMode int

const (
	// PreemptionCooperative leaves non-eligible tasks' execution
	// contexts alive, merely skipping their ticks. This is the default.
	PreemptionCooperative PreemptionMode = iota
	// PreemptionStrict terminates non-eligible tasks' execution
	// contexts outright.
	PreemptionStrict
)

// key returns a task's policy-ordering key for p: smaller is more
// urgent, matching spec.md §4.4's table exactly.
func key(p Policy, t *task.Task) float64 {
	switch p {
	case PolicyEDF:
		if t.Deadline() <= 0 {
			return math.Inf(1)
		}
		return float64(t.Deadline())
	case PolicyRMS:
		if t.Period() <= 0 {
			return math.Inf(1)
		}
		return float64(t.Period())
	default: // PolicyFixed
		return float64(-t.Priority())
	}
}

// rankTasks returns tasks sorted most-eligible-first under policy p. Ties
// are broken by insertion order (the order tasks appear in the input
// slice), since the insertion sort in stableSortByKey is stable.
func rankTasks(p Policy, tasks []*task.Task) []*task.Task {
	ranked := make([]*task.Task, len(tasks))
	copy(ranked, tasks)
	stableSortByKey(p, ranked)
	return ranked
}

func stableSortByKey(p Policy, tasks []*task.Task) {
	// insertion sort: the task pool size in a cooperative scheduler is
	// small, and stability matters more than asymptotic complexity here.
	for i := 1; i < len(tasks); i++ {
		j := i
		for j > 0 && key(p, tasks[j-1]) > key(p, tasks[j]) {
			tasks[j-1], tasks[j] = tasks[j], tasks[j-1]
			j--
		}
	}
}

// dynamicPolicySwitch implements spec.md §4.4's "Dynamic policy switch":
// EDF if any task has missed a deadline, else RMS if every task is
// periodic, else FIXED.
func dynamicPolicySwitch(tasks []*task.Task) Policy {
	var totalMissed uint64
	allPeriodic := len(tasks) > 0
	for _, t := range tasks {
		totalMissed += t.Metrics().MissedDeadlines()
		if t.Period() <= 0 {
			allPeriodic = false
		}
	}
	switch {
	case totalMissed > 0:
		return PolicyEDF
	case allPeriodic:
		return PolicyRMS
	default:
		return PolicyFixed
	}
}
