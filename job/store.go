package job

import (
	"context"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Filters narrows owner-facing job listings. Zero values mean "any".
type Filters struct {
	Status     Status
	Region     voxgrid.Region
	WorkflowID string
	ScheduleID id.ScheduleID
}

// Store defines the persistence contract for jobs.
//
// Claim methods are the concurrency-critical surface: implementations
// must guarantee that across any number of concurrent callers at most
// one caller receives a given job, and must skip rows another in-flight
// claim is examining rather than wait on them. "No eligible job" is the
// (nil, nil) result, never an error.
type Store interface {
	// EnqueueJob persists a new job in pending state.
	EnqueueJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListPendingJobs returns the pending jobs of a region ordered by
	// priority descending, then CreatedAt ascending. It is a read-only
	// snapshot, not a reservation: any job it returns may be claimed by
	// someone else before the caller acts on it.
	ListPendingJobs(ctx context.Context, region voxgrid.Region, opts ListOpts) ([]*Job, error)

	// ClaimNextJob atomically assigns the best eligible pending job in
	// region to agentID: highest priority first, oldest CreatedAt as the
	// tiebreak. On success the job is running with AgentID and StartedAt
	// set. Returns (nil, nil) when no job is eligible.
	ClaimNextJob(ctx context.Context, agentID id.AgentID, region voxgrid.Region) (*Job, error)

	// ClaimJob atomically assigns a specific job to agentID, re-verifying
	// in the same atomic step that the job is still pending and its region
	// equals region. Returns (nil, nil) when the claim was lost.
	ClaimJob(ctx context.Context, jobID id.JobID, agentID id.AgentID, region voxgrid.Region) (*Job, error)

	// CompleteJob transitions a running job to completed (errMsg empty)
	// or failed (errMsg recorded). Calling it on a non-running job is an
	// idempotent no-op: the current row is returned unchanged and the
	// bool is false, so duplicate completion reports have no side effect.
	CompleteJob(ctx context.Context, jobID id.JobID, errMsg string) (*Job, bool, error)

	// CancelJob transitions a pending job to failed with CancelledError.
	// Returns (nil, nil) when the job is no longer pending — the cancel
	// arrived too late and callers must not treat that as an error.
	CancelJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ReleaseStaleJobs recovers every running job whose assigned agent
	// has not been seen within threshold. Jobs with retry budget left go
	// back to pending with RetryCount+1, AgentID and StartedAt cleared,
	// and CreatedAt untouched so they re-enter the queue at their original
	// position. Jobs out of budget fail with TimeoutError. Each job is
	// released atomically: two concurrent sweeps never double-release one.
	ReleaseStaleJobs(ctx context.Context, threshold time.Duration) (released, failed []*Job, err error)

	// ListJobs returns jobs matching the filters, newest first.
	ListJobs(ctx context.Context, f Filters, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the filters.
	CountJobs(ctx context.Context, f Filters) (int64, error)
}
