package job

import (
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting in the queue of its region.
	StatusPending Status = "pending"
	// StatusRunning means exactly one agent has claimed the job and is
	// executing it.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed: the agent reported an error, the
	// retry budget was exhausted after stale releases, or it was cancelled.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CancelledError is the error string recorded on a job cancelled while
// still pending.
const CancelledError = "Cancelled by user"

// TimeoutError is the error string recorded on a job whose agent went
// silent after the retry budget was exhausted.
const TimeoutError = "Agent timeout - max retries exceeded"

// Job is one unit of evaluation work, owned by at most one agent at a
// time. WorkflowID and EvalSetID reference benchmark definitions owned by
// external collaborators and are opaque here.
type Job struct {
	voxgrid.Entity

	ID         id.JobID       `json:"id"`
	ScheduleID id.ScheduleID  `json:"schedule_id,omitempty"`
	WorkflowID string         `json:"workflow_id"`
	EvalSetID  string         `json:"eval_set_id,omitempty"`
	AgentID    id.AgentID     `json:"agent_id,omitempty"`
	Region     voxgrid.Region `json:"region"`
	Status     Status         `json:"status"`
	Priority   int            `json:"priority"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Error      string         `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Claimed reports whether the job currently has an assigned agent.
// The invariant is AgentID non-nil iff Status == running.
func (j *Job) Claimed() bool {
	return j.Status == StatusRunning && !j.AgentID.IsNil()
}
