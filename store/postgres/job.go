package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
)

const jobColumns = `
	id, schedule_id, workflow_id, eval_set_id, agent_id, region, status,
	priority, retry_count, max_retries, error,
	started_at, completed_at, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voxgrid_jobs (
			id, schedule_id, workflow_id, eval_set_id, agent_id, region, status,
			priority, retry_count, max_retries, error,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15
		)`,
		j.ID, j.ScheduleID, j.WorkflowID, j.EvalSetID, j.AgentID,
		string(j.Region), string(j.Status),
		j.Priority, j.RetryCount, j.MaxRetries, j.Error,
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return voxgrid.ErrJobAlreadyExists
		}
		return fmt.Errorf("voxgrid/postgres: enqueue job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM voxgrid_jobs WHERE id = $1`,
		jobID,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxgrid.ErrJobNotFound
		}
		return nil, fmt.Errorf("voxgrid/postgres: get job: %w", err)
	}
	return j, nil
}

// ListPendingJobs returns the pending queue of a region in claim order.
func (s *Store) ListPendingJobs(ctx context.Context, region voxgrid.Region, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + `
		FROM voxgrid_jobs
		WHERE status = 'pending' AND region = $1
		ORDER BY priority DESC, created_at ASC`
	args := []any{string(region)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: list pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ClaimNextJob atomically claims the best eligible pending job in the
// region. SKIP LOCKED makes concurrent claimers pass over rows another
// in-flight claim already holds instead of waiting on them.
func (s *Store) ClaimNextJob(ctx context.Context, agentID id.AgentID, region voxgrid.Region) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE voxgrid_jobs
			SET status = 'running', agent_id = $1, started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM voxgrid_jobs
				WHERE status = 'pending' AND region = $2
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING`+jobColumns+`
		)
		SELECT * FROM claimed`,
		agentID, string(region),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("voxgrid/postgres: claim next job: %w", err)
	}
	return j, nil
}

// ClaimJob atomically claims one specific job, re-verifying pending
// state and region inside the locked select. A lost race is (nil, nil).
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, agentID id.AgentID, region voxgrid.Region) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE voxgrid_jobs
			SET status = 'running', agent_id = $2, started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM voxgrid_jobs
				WHERE id = $1 AND status = 'pending' AND region = $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING`+jobColumns+`
		)
		SELECT * FROM claimed`,
		jobID, agentID, string(region),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			// Lost race, wrong region, or unknown ID. Distinguish the
			// unknown ID so callers can 404 it.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, nil
		}
		return nil, fmt.Errorf("voxgrid/postgres: claim job: %w", err)
	}
	return j, nil
}

// CompleteJob transitions a running job to its terminal state. A job no
// longer running is returned unchanged with changed == false.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, errMsg string) (*job.Job, bool, error) {
	status := job.StatusCompleted
	if errMsg != "" {
		status = job.StatusFailed
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE voxgrid_jobs
		SET status = $2, error = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
		RETURNING`+jobColumns,
		jobID, string(status), errMsg,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("voxgrid/postgres: complete job: %w", err)
	}

	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// CancelJob fails a pending job with CancelledError. (nil, nil) means
// the job had already left pending.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE voxgrid_jobs
		SET status = 'failed', error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING`+jobColumns,
		jobID, job.CancelledError,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("voxgrid/postgres: cancel job: %w", err)
	}
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, nil
}

// ReleaseStaleJobs recovers running jobs whose agent went silent. Jobs
// with retry budget left go back to pending at their original queue
// position; exhausted jobs fail with TimeoutError. SKIP LOCKED keeps
// two concurrent sweeps from double-releasing a row.
func (s *Store) ReleaseStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, []*job.Job, error) {
	released, err := s.sweepStale(ctx, threshold, true)
	if err != nil {
		return nil, nil, err
	}
	failed, err := s.sweepStale(ctx, threshold, false)
	if err != nil {
		return released, nil, err
	}
	return released, failed, nil
}

func (s *Store) sweepStale(ctx context.Context, threshold time.Duration, withBudget bool) ([]*job.Job, error) {
	budgetCond := "j.retry_count < j.max_retries"
	action := `SET status = 'pending', agent_id = NULL, started_at = NULL,
			retry_count = retry_count + 1, updated_at = NOW()`
	if !withBudget {
		budgetCond = "j.retry_count >= j.max_retries"
		action = `SET status = 'failed', error = '` + job.TimeoutError + `',
			completed_at = NOW(), updated_at = NOW()`
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE voxgrid_jobs
		`+action+`
		WHERE id IN (
			SELECT j.id FROM voxgrid_jobs j
			LEFT JOIN voxgrid_agents a ON a.id = j.agent_id
			WHERE j.status = 'running'
			  AND (a.id IS NULL OR a.last_seen_at < NOW() - make_interval(secs => $1))
			  AND `+budgetCond+`
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING`+jobColumns,
		threshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: release stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobs returns jobs matching the filters, newest first.
func (s *Store) ListJobs(ctx context.Context, f job.Filters, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM voxgrid_jobs`
	where, args := filterClauses(f)
	query += where + " ORDER BY created_at DESC, id DESC"

	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the filters.
func (s *Store) CountJobs(ctx context.Context, f job.Filters) (int64, error) {
	query := `SELECT COUNT(*) FROM voxgrid_jobs`
	where, args := filterClauses(f)
	query += where

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("voxgrid/postgres: count jobs: %w", err)
	}
	return count, nil
}

func filterClauses(f job.Filters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Region != "" {
		add("region = $%d", string(f.Region))
	}
	if f.WorkflowID != "" {
		add("workflow_id = $%d", f.WorkflowID)
	}
	if !f.ScheduleID.IsNil() {
		add("schedule_id = $%d", f.ScheduleID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		regionStr string
		statusStr string
	)
	err := row.Scan(
		&j.ID, &j.ScheduleID, &j.WorkflowID, &j.EvalSetID, &j.AgentID,
		&regionStr, &statusStr,
		&j.Priority, &j.RetryCount, &j.MaxRetries, &j.Error,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Region = voxgrid.Region(regionStr)
	j.Status = job.Status(statusStr)
	return &j, nil
}

// collectJobs scans all rows into jobs.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("voxgrid/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}
