package store

import (
	"encoding/json"
	"time"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// WorkflowRecord is the persisted representation of a workflow definition.
type WorkflowRecord struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name,omitempty"`
	Definition schema.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// ExecutionRecord is one row of execution history: the dashboard's
// observability surface.
type ExecutionRecord struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Status        schema.ExecutionStatus `json:"status"`
	Input         json.RawMessage        `json:"input,omitempty"`
	Output        json.RawMessage        `json:"output,omitempty"`
	Decision      json.RawMessage        `json:"decision,omitempty"`
	ExecutionPath []string               `json:"execution_path,omitempty"`
	Errors        json.RawMessage        `json:"errors,omitempty"`
	DurationMs    int64                  `json:"duration_ms,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// ExecutionUpdate is a partial update applied to an execution record.
// Nil fields are left untouched.
type ExecutionUpdate struct {
	Status        *schema.ExecutionStatus
	Output        json.RawMessage
	Decision      json.RawMessage
	ExecutionPath []string
	Errors        json.RawMessage
	DurationMs    *int64
	CompletedAt   *time.Time
}

// Event is an immutable entry in the audit event log, sequenced per
// execution.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered workflow run.
type ScheduledJob struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Input          json.RawMessage `json:"input,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduledJobUpdate is a partial update applied to a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}
