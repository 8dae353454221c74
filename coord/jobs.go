package coord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
	"github.com/Agora-Build/voxgrid/metrics"
	"github.com/Agora-Build/voxgrid/result"
)

// EnqueueInput describes a job to enqueue manually.
type EnqueueInput struct {
	WorkflowID string
	EvalSetID  string
	Region     voxgrid.Region
	Priority   int
	// MaxRetries <= 0 uses the configured default.
	MaxRetries int
}

// RunWorkflow enqueues a job outside any schedule.
func (c *Coordinator) RunWorkflow(ctx context.Context, in EnqueueInput) (*job.Job, error) {
	if !in.Region.Valid() {
		return nil, fmt.Errorf("%w: %q", voxgrid.ErrInvalidRegion, in.Region)
	}
	j, err := c.enqueue(ctx, in, id.ScheduleID{})
	if err != nil {
		return nil, err
	}
	c.collector.Enqueued(ctx, j.Region, metrics.SourceManual)
	return j, nil
}

func (c *Coordinator) enqueue(ctx context.Context, in EnqueueInput, scheduleID id.ScheduleID) (*job.Job, error) {
	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.DefaultMaxRetries
	}
	j := &job.Job{
		Entity:     voxgrid.NewEntityAt(c.clock.Now()),
		ID:         id.NewJobID(),
		ScheduleID: scheduleID,
		WorkflowID: in.WorkflowID,
		EvalSetID:  in.EvalSetID,
		Region:     in.Region,
		Status:     job.StatusPending,
		Priority:   in.Priority,
		MaxRetries: maxRetries,
	}
	if err := c.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	c.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("workflow_id", j.WorkflowID),
		slog.String("region", j.Region.String()),
		slog.Int("priority", j.Priority),
	)
	return j, nil
}

// ListPendingJobs returns the queue snapshot an agent polls before
// attempting a claim. The snapshot reserves nothing.
func (c *Coordinator) ListPendingJobs(ctx context.Context, tok *agent.Token, opts job.ListOpts) ([]*job.Job, error) {
	return c.store.ListPendingJobs(ctx, tok.Region, opts)
}

// ClaimNext assigns the best eligible pending job in the agent's region
// to the agent. (nil, nil) means the queue had nothing eligible.
func (c *Coordinator) ClaimNext(ctx context.Context, tok *agent.Token, agentID id.AgentID) (*job.Job, error) {
	if _, err := c.ownedAgent(ctx, tok, agentID); err != nil {
		return nil, err
	}
	j, err := c.store.ClaimNextJob(ctx, agentID, tok.Region)
	if err != nil {
		return nil, err
	}
	if j == nil {
		c.collector.Claim(ctx, tok.Region, metrics.OutcomeEmpty)
		return nil, nil
	}
	c.afterClaim(ctx, agentID, j)
	return j, nil
}

// Claim assigns one specific job to the agent. (nil, nil) means another
// agent won the race; callers surface that as a conflict, not an error.
func (c *Coordinator) Claim(ctx context.Context, tok *agent.Token, agentID id.AgentID, jobID id.JobID) (*job.Job, error) {
	if _, err := c.ownedAgent(ctx, tok, agentID); err != nil {
		return nil, err
	}
	// Region is re-verified inside the atomic claim; this early check
	// only exists to distinguish a cross-region attempt from a lost race.
	cur, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur.Region != tok.Region {
		return nil, voxgrid.ErrRegionMismatch
	}
	j, err := c.store.ClaimJob(ctx, jobID, agentID, tok.Region)
	if err != nil {
		return nil, err
	}
	if j == nil {
		c.collector.Claim(ctx, tok.Region, metrics.OutcomeLost)
		return nil, nil
	}
	c.afterClaim(ctx, agentID, j)
	return j, nil
}

func (c *Coordinator) afterClaim(ctx context.Context, agentID id.AgentID, j *job.Job) {
	c.collector.Claim(ctx, j.Region, metrics.OutcomeWon)
	if err := c.store.SetAgentState(ctx, agentID, agent.StateOccupied, true); err != nil {
		// The claim already happened; the agent row catches up on the
		// next heartbeat.
		c.logger.Warn("agent state update after claim failed",
			slog.String("agent_id", agentID.String()),
			slog.String("error", err.Error()),
		)
	}
	c.logger.Info("job claimed",
		slog.String("job_id", j.ID.String()),
		slog.String("agent_id", agentID.String()),
		slog.String("region", j.Region.String()),
	)
}

// Complete records an agent's terminal report for a job it owns: an
// empty errMsg completes the job, anything else fails it. The results
// map carries the agent's measured latency/quality tuple; on a
// successful completion it rides along to the result sink as the
// record's labels. Duplicate reports are no-ops and do not re-deliver
// the result.
func (c *Coordinator) Complete(ctx context.Context, tok *agent.Token, agentID id.AgentID, jobID id.JobID, errMsg string, results map[string]string) (*job.Job, error) {
	if _, err := c.ownedAgent(ctx, tok, agentID); err != nil {
		return nil, err
	}
	cur, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur.Status == job.StatusRunning && cur.AgentID != agentID {
		return nil, voxgrid.ErrTokenMismatch
	}

	j, changed, err := c.store.CompleteJob(ctx, jobID, errMsg)
	if err != nil {
		return nil, err
	}
	if !changed {
		return j, nil
	}

	if err := c.store.SetAgentState(ctx, agentID, agent.StateIdle, false); err != nil {
		c.logger.Warn("agent state update after completion failed",
			slog.String("agent_id", agentID.String()),
			slog.String("error", err.Error()),
		)
	}
	// Measurements only accompany a clean completion; a failure report
	// has nothing trustworthy to attach.
	var labels map[string]string
	if errMsg == "" {
		labels = results
	}
	c.deliverResult(ctx, j, labels)
	c.logger.Info("job finished",
		slog.String("job_id", j.ID.String()),
		slog.String("agent_id", agentID.String()),
		slog.String("status", string(j.Status)),
	)
	return j, nil
}

// CancelJob fails a pending job with CancelledError. (nil, nil) means
// the job had already left pending; the cancel arrived too late.
func (c *Coordinator) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := c.store.CancelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, nil
	}
	c.deliverResult(ctx, j, nil)
	c.logger.Info("job cancelled", slog.String("job_id", j.ID.String()))
	return j, nil
}

// GetJob retrieves a job.
func (c *Coordinator) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filters, newest first.
func (c *Coordinator) ListJobs(ctx context.Context, f job.Filters, opts job.ListOpts) ([]*job.Job, error) {
	return c.store.ListJobs(ctx, f, opts)
}

// CountJobs returns the number of jobs matching the filters.
func (c *Coordinator) CountJobs(ctx context.Context, f job.Filters) (int64, error) {
	return c.store.CountJobs(ctx, f)
}

// deliverResult sends one terminal record to the sink, with any
// agent-reported measurements attached as labels. Delivery is
// best-effort: the state transition already committed, so a sink outage
// is logged rather than unwound.
func (c *Coordinator) deliverResult(ctx context.Context, j *job.Job, labels map[string]string) {
	rec := result.NewRecord(j)
	if len(labels) > 0 {
		rec.Labels = labels
	}
	if err := c.sink.Deliver(ctx, rec); err != nil {
		c.logger.Error("result delivery failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
