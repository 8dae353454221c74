package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/schedule"
)

const scheduleColumns = `
	id, workflow_id, eval_set_id, region, type, cron_expression, timezone,
	enabled, next_run_at, last_run_at, run_count, max_runs,
	created_at, updated_at`

// CreateSchedule persists a new schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voxgrid_schedules (
			id, workflow_id, eval_set_id, region, type, cron_expression, timezone,
			enabled, next_run_at, last_run_at, run_count, max_runs,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14
		)`,
		sc.ID, sc.WorkflowID, sc.EvalSetID, string(sc.Region), string(sc.Type),
		sc.CronExpression, sc.Timezone,
		sc.Enabled, sc.NextRunAt, sc.LastRunAt, sc.RunCount, sc.MaxRuns,
		sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+scheduleColumns+` FROM voxgrid_schedules WHERE id = $1`,
		scheduleID,
	)
	sc, err := scanSchedule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxgrid.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("voxgrid/postgres: get schedule: %w", err)
	}
	return sc, nil
}

// UpdateSchedule persists changes to an existing schedule.
func (s *Store) UpdateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE voxgrid_schedules SET
			workflow_id = $2, eval_set_id = $3, region = $4, type = $5,
			cron_expression = $6, timezone = $7, enabled = $8,
			next_run_at = $9, last_run_at = $10, run_count = $11, max_runs = $12,
			updated_at = NOW()
		WHERE id = $1`,
		sc.ID, sc.WorkflowID, sc.EvalSetID, string(sc.Region), string(sc.Type),
		sc.CronExpression, sc.Timezone, sc.Enabled,
		sc.NextRunAt, sc.LastRunAt, sc.RunCount, sc.MaxRuns,
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return voxgrid.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM voxgrid_schedules WHERE id = $1`,
		scheduleID,
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return voxgrid.ErrScheduleNotFound
	}
	return nil
}

// ListSchedules returns schedules ordered by CreatedAt.
func (s *Store) ListSchedules(ctx context.Context, opts schedule.ListOpts) ([]*schedule.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM voxgrid_schedules ORDER BY created_at ASC, id ASC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("voxgrid/postgres: list schedules: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// ListDueSchedules returns enabled schedules with NextRunAt <= now.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]*schedule.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+scheduleColumns+`
		FROM voxgrid_schedules
		WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: list due schedules: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// FireSchedule advances a due schedule's timing state, guarded on the
// schedule still being enabled at prevNextRun. The row count tells a
// racing dispatcher it lost.
func (s *Store) FireSchedule(ctx context.Context, scheduleID id.ScheduleID, prevNextRun, firedAt time.Time, nextRun *time.Time, enabled bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE voxgrid_schedules
		SET last_run_at = $3, run_count = run_count + 1,
		    next_run_at = $4, enabled = $5, updated_at = NOW()
		WHERE id = $1 AND enabled AND next_run_at = $2`,
		scheduleID, prevNextRun, firedAt, nextRun, enabled,
	)
	if err != nil {
		return false, fmt.Errorf("voxgrid/postgres: fire schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSchedule(row pgx.Row) (*schedule.Schedule, error) {
	var (
		sc        schedule.Schedule
		regionStr string
		typeStr   string
	)
	err := row.Scan(
		&sc.ID, &sc.WorkflowID, &sc.EvalSetID, &regionStr, &typeStr,
		&sc.CronExpression, &sc.Timezone,
		&sc.Enabled, &sc.NextRunAt, &sc.LastRunAt, &sc.RunCount, &sc.MaxRuns,
		&sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sc.Region = voxgrid.Region(regionStr)
	sc.Type = schedule.Type(typeStr)
	return &sc, nil
}

func collectSchedules(rows pgx.Rows) ([]*schedule.Schedule, error) {
	var schedules []*schedule.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("voxgrid/postgres: scan schedule: %w", err)
		}
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: iterate schedules: %w", err)
	}
	return schedules, nil
}
