package memory

import (
	"context"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
)

func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.jobs[j.ID]; ok {
		return voxgrid.ErrJobAlreadyExists
	}
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, voxgrid.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) ListPendingJobs(_ context.Context, region voxgrid.Region, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range s.jobs {
		if j.Status == job.StatusPending && j.Region == region {
			out = append(out, cloneJob(j))
		}
	}
	sortQueueOrder(out)
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (s *Store) ClaimNextJob(_ context.Context, agentID id.AgentID, region voxgrid.Region) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var best *job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusPending || j.Region != region {
			continue
		}
		if best == nil || queueBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	s.assign(best, agentID)
	return cloneJob(best), nil
}

func (s *Store) ClaimJob(_ context.Context, jobID id.JobID, agentID id.AgentID, region voxgrid.Region) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, voxgrid.ErrJobNotFound
	}
	if j.Status != job.StatusPending || j.Region != region {
		return nil, nil
	}
	s.assign(j, agentID)
	return cloneJob(j), nil
}

// assign is the single claim transition. Callers hold the write lock.
func (s *Store) assign(j *job.Job, agentID id.AgentID) {
	now := s.clock.Now()
	j.Status = job.StatusRunning
	j.AgentID = agentID
	j.StartedAt = &now
	j.UpdatedAt = now
}

func (s *Store) CompleteJob(_ context.Context, jobID id.JobID, errMsg string) (*job.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, false, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false, voxgrid.ErrJobNotFound
	}
	if j.Status != job.StatusRunning {
		return cloneJob(j), false, nil
	}
	now := s.clock.Now()
	if errMsg == "" {
		j.Status = job.StatusCompleted
	} else {
		j.Status = job.StatusFailed
		j.Error = errMsg
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
	return cloneJob(j), true, nil
}

func (s *Store) CancelJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, voxgrid.ErrJobNotFound
	}
	if j.Status != job.StatusPending {
		return nil, nil
	}
	now := s.clock.Now()
	j.Status = job.StatusFailed
	j.Error = job.CancelledError
	j.CompletedAt = &now
	j.UpdatedAt = now
	return cloneJob(j), nil
}

func (s *Store) ReleaseStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, []*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, nil, err
	}
	now := s.clock.Now()
	cutoff := now.Add(-threshold)

	var released, failed []*job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		a, ok := s.agents[j.AgentID]
		if ok && a.LastSeenAt.After(cutoff) {
			continue
		}
		if j.RetryCount < j.MaxRetries {
			j.RetryCount++
			j.Status = job.StatusPending
			j.AgentID = id.AgentID{}
			j.StartedAt = nil
			j.UpdatedAt = now
			released = append(released, cloneJob(j))
		} else {
			j.Status = job.StatusFailed
			j.Error = job.TimeoutError
			j.CompletedAt = &now
			j.UpdatedAt = now
			failed = append(failed, cloneJob(j))
		}
	}
	return released, failed, nil
}

func (s *Store) ListJobs(_ context.Context, f job.Filters, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range s.jobs {
		if matchJob(j, f) {
			out = append(out, cloneJob(j))
		}
	}
	sortNewestFirst(out)
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (s *Store) CountJobs(_ context.Context, f job.Filters) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int64
	for _, j := range s.jobs {
		if matchJob(j, f) {
			n++
		}
	}
	return n, nil
}

func matchJob(j *job.Job, f job.Filters) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Region != "" && j.Region != f.Region {
		return false
	}
	if f.WorkflowID != "" && j.WorkflowID != f.WorkflowID {
		return false
	}
	if !f.ScheduleID.IsNil() && j.ScheduleID != f.ScheduleID {
		return false
	}
	return true
}
