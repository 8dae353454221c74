package coord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/cronexpr"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
	"github.com/Agora-Build/voxgrid/metrics"
	"github.com/Agora-Build/voxgrid/schedule"
)

// CreateScheduleInput describes a new schedule.
type CreateScheduleInput struct {
	WorkflowID string
	EvalSetID  string
	Region     voxgrid.Region
	Type       schedule.Type

	// CronExpression is required for recurring schedules.
	CronExpression string
	// Timezone is the IANA zone the cron expression evaluates in.
	// Empty means UTC.
	Timezone string
	// RunAt is required for one-shot schedules.
	RunAt *time.Time
	// MaxRuns caps recurring schedules. Zero means uncapped.
	MaxRuns int
}

// CreateSchedule validates and persists a schedule with its first
// NextRunAt already computed, so the dispatcher needs no warm-up pass.
func (c *Coordinator) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*schedule.Schedule, error) {
	if !in.Region.Valid() {
		return nil, fmt.Errorf("%w: %q", voxgrid.ErrInvalidRegion, in.Region)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", voxgrid.ErrInvalidSchedule, in.Type)
	}
	if in.WorkflowID == "" {
		return nil, fmt.Errorf("%w: workflow id is required", voxgrid.ErrInvalidSchedule)
	}

	loc := time.UTC
	if in.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", voxgrid.ErrInvalidSchedule, in.Timezone)
		}
	}

	now := c.clock.Now()
	var nextRun *time.Time
	switch in.Type {
	case schedule.TypeOnce:
		if in.RunAt == nil {
			return nil, fmt.Errorf("%w: one-shot schedule needs a run time", voxgrid.ErrInvalidSchedule)
		}
		runAt := in.RunAt.UTC()
		nextRun = &runAt
	case schedule.TypeRecurring:
		if err := cronexpr.Validate(in.CronExpression); err != nil {
			return nil, fmt.Errorf("%w: %v", voxgrid.ErrInvalidSchedule, err)
		}
		next := cronexpr.Next(in.CronExpression, now.In(loc))
		nextRun = &next
	}

	s := &schedule.Schedule{
		Entity:         voxgrid.NewEntityAt(now),
		ID:             id.NewScheduleID(),
		WorkflowID:     in.WorkflowID,
		EvalSetID:      in.EvalSetID,
		Region:         in.Region,
		Type:           in.Type,
		CronExpression: in.CronExpression,
		Timezone:       in.Timezone,
		Enabled:        true,
		NextRunAt:      nextRun,
		MaxRuns:        in.MaxRuns,
	}
	if err := c.store.CreateSchedule(ctx, s); err != nil {
		return nil, err
	}
	c.logger.Info("schedule created",
		slog.String("schedule_id", s.ID.String()),
		slog.String("workflow_id", s.WorkflowID),
		slog.String("type", string(s.Type)),
		slog.String("region", s.Region.String()),
	)
	return s, nil
}

// UpdateScheduleInput patches a schedule. Nil fields are left alone.
type UpdateScheduleInput struct {
	CronExpression *string
	Timezone       *string
	Enabled        *bool
	MaxRuns        *int
}

// UpdateSchedule applies a patch and recomputes NextRunAt whenever the
// firing rule changed. Disabling clears NextRunAt; re-enabling a
// recurring schedule computes a fresh one from now.
func (c *Coordinator) UpdateSchedule(ctx context.Context, scheduleID id.ScheduleID, in UpdateScheduleInput) (*schedule.Schedule, error) {
	s, err := c.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	recompute := false
	if in.CronExpression != nil && *in.CronExpression != s.CronExpression {
		if s.Type != schedule.TypeRecurring {
			return nil, fmt.Errorf("%w: cron expression on a one-shot schedule", voxgrid.ErrInvalidSchedule)
		}
		if err := cronexpr.Validate(*in.CronExpression); err != nil {
			return nil, fmt.Errorf("%w: %v", voxgrid.ErrInvalidSchedule, err)
		}
		s.CronExpression = *in.CronExpression
		recompute = true
	}
	if in.Timezone != nil && *in.Timezone != s.Timezone {
		if *in.Timezone != "" {
			if _, err := time.LoadLocation(*in.Timezone); err != nil {
				return nil, fmt.Errorf("%w: unknown timezone %q", voxgrid.ErrInvalidSchedule, *in.Timezone)
			}
		}
		s.Timezone = *in.Timezone
		recompute = true
	}
	if in.MaxRuns != nil {
		s.MaxRuns = *in.MaxRuns
	}
	if in.Enabled != nil && *in.Enabled != s.Enabled {
		s.Enabled = *in.Enabled
		recompute = true
	}

	if recompute {
		if !s.Enabled {
			s.NextRunAt = nil
		} else {
			s.NextRunAt = schedule.NextRun(s, c.clock.Now())
			if s.Type == schedule.TypeOnce && s.NextRunAt == nil {
				// A fired one-shot cannot be re-armed by toggling.
				s.Enabled = false
			}
		}
	}
	s.UpdatedAt = c.clock.Now()

	if err := c.store.UpdateSchedule(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSchedule removes a schedule. Jobs it already produced keep
// their back-reference.
func (c *Coordinator) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	if err := c.store.DeleteSchedule(ctx, scheduleID); err != nil {
		return err
	}
	c.logger.Info("schedule deleted", slog.String("schedule_id", scheduleID.String()))
	return nil
}

// GetSchedule retrieves a schedule.
func (c *Coordinator) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	return c.store.GetSchedule(ctx, scheduleID)
}

// ListSchedules returns schedules.
func (c *Coordinator) ListSchedules(ctx context.Context, opts schedule.ListOpts) ([]*schedule.Schedule, error) {
	return c.store.ListSchedules(ctx, opts)
}

// RunScheduleNow enqueues a job for a schedule immediately. A recurring
// schedule's cadence is untouched, so a manual trigger never perturbs
// the regular firing times. A one-shot schedule exists to produce a
// single job, and the manual trigger just produced it: the schedule is
// retired so the dispatcher cannot fire it a second time.
func (c *Coordinator) RunScheduleNow(ctx context.Context, scheduleID id.ScheduleID) (*job.Job, error) {
	s, err := c.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	j, err := c.enqueue(ctx, EnqueueInput{
		WorkflowID: s.WorkflowID,
		EvalSetID:  s.EvalSetID,
		Region:     s.Region,
	}, s.ID)
	if err != nil {
		return nil, err
	}
	if s.Type == schedule.TypeOnce && s.Enabled && s.NextRunAt != nil {
		if _, err := c.store.FireSchedule(ctx, s.ID, *s.NextRunAt, c.clock.Now(), nil, false); err != nil {
			c.logger.Warn("retiring one-shot schedule after manual run failed",
				slog.String("schedule_id", s.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	c.collector.Enqueued(ctx, j.Region, metrics.SourceManual)
	return j, nil
}

// EnqueueForSchedule is the dispatcher's enqueue callback.
func (c *Coordinator) EnqueueForSchedule(ctx context.Context, s *schedule.Schedule) (id.JobID, error) {
	j, err := c.enqueue(ctx, EnqueueInput{
		WorkflowID: s.WorkflowID,
		EvalSetID:  s.EvalSetID,
		Region:     s.Region,
	}, s.ID)
	if err != nil {
		return id.JobID{}, err
	}
	c.collector.Enqueued(ctx, j.Region, metrics.SourceSchedule)
	return j.ID, nil
}
