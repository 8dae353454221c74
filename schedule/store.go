package schedule

import (
	"context"
	"time"

	"github.com/Agora-Build/voxgrid/id"
)

// ListOpts controls pagination for schedule list queries.
type ListOpts struct {
	// Limit is the maximum number of schedules to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of schedules to skip.
	Offset int
}

// Store defines the persistence contract for schedules.
type Store interface {
	// CreateSchedule persists a new schedule.
	CreateSchedule(ctx context.Context, s *Schedule) error

	// GetSchedule retrieves a schedule by ID.
	GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*Schedule, error)

	// UpdateSchedule persists changes to an existing schedule.
	UpdateSchedule(ctx context.Context, s *Schedule) error

	// DeleteSchedule removes a schedule immediately and unconditionally.
	// Jobs already produced keep their ScheduleID back-reference.
	DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error

	// ListSchedules returns schedules ordered by CreatedAt.
	ListSchedules(ctx context.Context, opts ListOpts) ([]*Schedule, error)

	// ListDueSchedules returns enabled schedules with NextRunAt <= now,
	// ordered by NextRunAt ascending.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error)

	// FireSchedule atomically advances a due schedule's timing state:
	// LastRunAt = firedAt, RunCount incremented, NextRunAt and Enabled
	// replaced. The write is guarded on the schedule still being enabled
	// with NextRunAt == prevNextRun, so two dispatchers racing on one due
	// schedule produce exactly one fire; the loser gets false.
	//
	// The winner advances the cadence before its job is enqueued, making
	// each due instant at-most-once. If the enqueue then fails, the
	// dispatcher restores the pre-fire timing so the instant is retried
	// on the next sweep rather than lost.
	FireSchedule(ctx context.Context, scheduleID id.ScheduleID, prevNextRun, firedAt time.Time, nextRun *time.Time, enabled bool) (bool, error)
}
