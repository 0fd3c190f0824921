package rtevent

// Kind identifies the lifecycle record types of spec.md §6, following
// CloudEvents reverse-domain-notation naming, the same convention the
// teacher uses for its modules/scheduler event constants.
const (
	KindTaskAdded             = "com.minrtos.task.added"
	KindTaskRemoved           = "com.minrtos.task.removed"
	KindTaskCrashed           = "com.minrtos.task.crashed"
	KindTaskRestarted         = "com.minrtos.task.restarted"
	KindTaskRestartThrottled  = "com.minrtos.task.restart_throttled"
	KindDeadlineMissed        = "com.minrtos.task.deadline_missed"
	KindTaskKilled            = "com.minrtos.task.killed"
	KindTaskPaused            = "com.minrtos.task.paused"
	KindPolicyChanged         = "com.minrtos.scheduler.policy_changed"
	KindMutexBoost            = "com.minrtos.mutex.boost"
	KindMutexRestore          = "com.minrtos.mutex.restore"
	KindInterruptReceived     = "com.minrtos.scheduler.interrupt_received"
	KindDuplicateRegistration = "com.minrtos.scheduler.duplicate_registration"
	KindSchedulerStarted      = "com.minrtos.scheduler.started"
	KindSchedulerStopped      = "com.minrtos.scheduler.stopped"
)
