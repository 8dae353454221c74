package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/schedule"
)

func (s *Store) CreateSchedule(_ context.Context, sc *schedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

func (s *Store) GetSchedule(_ context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return nil, voxgrid.ErrScheduleNotFound
	}
	return cloneSchedule(sc), nil
}

func (s *Store) UpdateSchedule(_ context.Context, sc *schedule.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.schedules[sc.ID]; !ok {
		return voxgrid.ErrScheduleNotFound
	}
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, scheduleID id.ScheduleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.schedules[scheduleID]; !ok {
		return voxgrid.ErrScheduleNotFound
	}
	delete(s.schedules, scheduleID)
	return nil
}

func (s *Store) ListSchedules(_ context.Context, opts schedule.ListOpts) ([]*schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*schedule.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, cloneSchedule(sc))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (s *Store) ListDueSchedules(_ context.Context, now time.Time) ([]*schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*schedule.Schedule
	for _, sc := range s.schedules {
		if sc.Enabled && sc.NextRunAt != nil && !sc.NextRunAt.After(now) {
			out = append(out, cloneSchedule(sc))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextRunAt.Before(*out[k].NextRunAt) })
	return out, nil
}

func (s *Store) FireSchedule(_ context.Context, scheduleID id.ScheduleID, prevNextRun, firedAt time.Time, nextRun *time.Time, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return false, voxgrid.ErrScheduleNotFound
	}
	if !sc.Enabled || sc.NextRunAt == nil || !sc.NextRunAt.Equal(prevNextRun) {
		return false, nil
	}
	fired := firedAt
	sc.LastRunAt = &fired
	sc.RunCount++
	sc.NextRunAt = nil
	if nextRun != nil {
		next := *nextRun
		sc.NextRunAt = &next
	}
	sc.Enabled = enabled
	sc.UpdatedAt = firedAt
	return true, nil
}
