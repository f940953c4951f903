package schema

// Event type constants for the run timeline.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunCancelled = "run_cancelled"
	EventRunFailed    = "run_failed"

	EventTaskScheduled = "task_scheduled"
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskCancelled = "task_cancelled"

	EventNameCorrected       = "name_corrected"
	EventSynthesizerFallback = "synthesizer_fallback"
	EventActionFailed        = "action_failed"
	EventAuditNote           = "audit_note"

	EventBatchCompleted   = "batch_completed"
	EventSynthesisStarted = "synthesis_started"
	EventSynthesisDone    = "synthesis_completed"
	EventQAPassed         = "qa_passed"
	EventQAFailed         = "qa_failed"
)

// RunStatus represents the lifecycle state of one orchestration run.
type RunStatus string

const (
	RunStatusPending               RunStatus = "pending"
	RunStatusRunning               RunStatus = "running"
	RunStatusCompleted             RunStatus = "completed"
	RunStatusCompletedWithFailures RunStatus = "completed_with_failures"
	RunStatusCancelled             RunStatus = "cancelled"
	RunStatusFailed                RunStatus = "failed"
	RunStatusNotFound              RunStatus = "not_found"
)

// TaskStatus represents the lifecycle state of one dispatched task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a task status is terminal.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}
