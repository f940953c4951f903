package store

import (
	"encoding/json"
	"time"

	"github.com/dcastano/ensemble/pkg/schema"
)

// Run is the persisted representation of a workflow run.
type Run struct {
	ID            string              `json:"id"`
	DedupeKey     string              `json:"dedupe_key,omitempty"`
	OriginalQuery string              `json:"original_query"`
	Strategy      schema.StrategyType `json:"strategy"`
	Plan          schema.WorkflowPlan `json:"plan"`
	Status        schema.RunStatus    `json:"status"`
	SynthesizerID int64               `json:"synthesizer_id,omitempty"`
	RequiresQA    bool                `json:"requires_qa"`
	Output        json.RawMessage     `json:"output,omitempty"`
	Error         json.RawMessage     `json:"error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// TaskRecord is the materialized view of a single node's execution.
type TaskRecord struct {
	RunID        string            `json:"run_id"`
	NodeKey      string            `json:"node_key"`
	StageIndex   int               `json:"stage_index"`
	NodeIndex    int               `json:"node_index"`
	ExecutorID   int64             `json:"executor_id"`
	ExecutorName string            `json:"executor_name,omitempty"`
	Status       schema.TaskStatus `json:"status"`
	Input        string            `json:"input,omitempty"`
	Output       string            `json:"output,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	DurationMs   int64             `json:"duration_ms,omitempty"`
}

// Event is an immutable entry in the run timeline.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeKey   string          `json:"node_key,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ExecutorRecord is the persisted catalog entry for an executor.
type ExecutorRecord struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Role        schema.ExecutorRole `json:"role"`
	Description string              `json:"description,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ScheduledJob is a cron-triggered plan submission.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CronExpression string          `json:"cron_expression"`
	Plan           json.RawMessage `json:"plan"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status *schema.RunStatus `json:"status,omitempty"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	NodeKey   string     `json:"node_key,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
