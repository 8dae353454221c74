package schedule

import (
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
)

// Type distinguishes one-shot from cron-recurring schedules.
type Type string

const (
	// TypeOnce fires a single job and disables itself.
	TypeOnce Type = "once"
	// TypeRecurring fires on a 5-field cron expression until disabled or
	// its MaxRuns cap is reached.
	TypeRecurring Type = "recurring"
)

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	return t == TypeOnce || t == TypeRecurring
}

// Schedule is a production rule for jobs. NextRunAt nil means the
// schedule will not fire again; the invariant Enabled == false implies
// NextRunAt == nil is maintained by every write path.
type Schedule struct {
	voxgrid.Entity

	ID             id.ScheduleID  `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	EvalSetID      string         `json:"eval_set_id,omitempty"`
	Region         voxgrid.Region `json:"region"`
	Type           Type           `json:"type"`
	CronExpression string         `json:"cron_expression,omitempty"`
	Timezone       string         `json:"timezone,omitempty"`
	Enabled        bool           `json:"enabled"`

	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	RunCount  int        `json:"run_count"`
	MaxRuns   int        `json:"max_runs,omitempty"` // zero means uncapped
}

// Location resolves the schedule's IANA timezone, defaulting to UTC.
// Creation validates the name, so a load failure here only happens when
// the tz database changed underneath a stored schedule.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
