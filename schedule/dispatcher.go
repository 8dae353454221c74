package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/cronexpr"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/metrics"
)

// EnqueueFunc is the callback the dispatcher uses to enqueue jobs.
// This keeps the dispatcher decoupled from the coordinator, which
// provides the implementation.
type EnqueueFunc func(ctx context.Context, s *Schedule) (id.JobID, error)

// NextRun computes when a schedule fires next after from. One-shot
// schedules never fire again, so the result is nil; recurring schedules
// evaluate their cron expression in the schedule's timezone.
func NextRun(s *Schedule, from time.Time) *time.Time {
	if s.Type != TypeRecurring {
		return nil
	}
	next := cronexpr.Next(s.CronExpression, from.In(s.Location()))
	return &next
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithInterval sets how often the dispatcher checks for due schedules.
func WithInterval(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.interval = d }
}

// WithClock sets the clock used to evaluate due schedules.
func WithClock(c voxgrid.Clock) DispatcherOption {
	return func(disp *Dispatcher) { disp.clock = c }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) DispatcherOption {
	return func(disp *Dispatcher) { disp.collector = c }
}

// Dispatcher materializes due schedules into jobs on a tick loop.
type Dispatcher struct {
	store     Store
	enqueue   EnqueueFunc
	clock     voxgrid.Clock
	logger    *slog.Logger
	collector *metrics.Collector
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store Store, enqueue EnqueueFunc, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:     store,
		enqueue:   enqueue,
		clock:     voxgrid.SystemClock{},
		logger:    logger,
		collector: metrics.New(),
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch tick goroutine.
func (d *Dispatcher) Start(_ context.Context) error {
	d.wg.Add(1)
	go d.tickLoop()
	d.logger.Info("schedule dispatcher started",
		slog.Duration("interval", d.interval),
	)
	return nil
}

// Stop signals the dispatcher to stop and waits for the loop to finish.
func (d *Dispatcher) Stop(_ context.Context) error {
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("schedule dispatcher stopped")
	return nil
}

func (d *Dispatcher) tickLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.RunOnce(context.Background())
		}
	}
}

// RunOnce performs a single dispatch sweep: every enabled schedule whose
// NextRunAt has passed is fired. An error on one schedule never aborts
// the sweep for the others.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	now := d.clock.Now()

	due, err := d.store.ListDueSchedules(ctx, now)
	if err != nil {
		d.logger.Error("list due schedules error", slog.String("error", err.Error()))
		return
	}

	for _, s := range due {
		d.fire(ctx, s, now)
	}
}

func (d *Dispatcher) fire(ctx context.Context, s *Schedule, now time.Time) {
	if s.NextRunAt == nil {
		// Defensive against a backend returning a half-disabled row.
		return
	}

	newCount := s.RunCount + 1
	enabled := s.Type == TypeRecurring
	var next *time.Time
	if enabled {
		if s.MaxRuns > 0 && newCount >= s.MaxRuns {
			enabled = false
		} else {
			next = NextRun(s, now)
		}
	}

	// Claim the fire by advancing the timing state first. Losing the
	// compare-and-set means another dispatcher already fired this due
	// instant, so no job is enqueued.
	fired, err := d.store.FireSchedule(ctx, s.ID, *s.NextRunAt, now, next, enabled)
	if err != nil {
		d.logger.Error("fire schedule error",
			slog.String("schedule_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !fired {
		return
	}

	jobID, err := d.enqueue(ctx, s)
	if err != nil {
		d.logger.Error("schedule enqueue error",
			slog.String("schedule_id", s.ID.String()),
			slog.String("workflow_id", s.WorkflowID),
			slog.String("error", err.Error()),
		)
		d.rearm(ctx, s, next, enabled)
		return
	}

	d.collector.Fired(ctx, s.Region)
	d.logger.Info("schedule fired",
		slog.String("schedule_id", s.ID.String()),
		slog.String("workflow_id", s.WorkflowID),
		slog.String("job_id", jobID.String()),
		slog.Int("run_count", newCount),
		slog.Bool("enabled", enabled),
	)
}

// rearm restores a schedule's pre-fire timing after the fire was won
// but the enqueue failed, so the tick is retried on the next sweep
// instead of lost. Best-effort: if the row no longer matches what the
// fire wrote, someone else moved it and it is left alone.
func (d *Dispatcher) rearm(ctx context.Context, s *Schedule, firedNext *time.Time, firedEnabled bool) {
	cur, err := d.store.GetSchedule(ctx, s.ID)
	if err != nil {
		d.logger.Error("rearm schedule error",
			slog.String("schedule_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if cur.RunCount != s.RunCount+1 || cur.Enabled != firedEnabled || !sameInstant(cur.NextRunAt, firedNext) {
		return
	}
	cur.RunCount = s.RunCount
	cur.LastRunAt = s.LastRunAt
	cur.NextRunAt = s.NextRunAt
	cur.Enabled = true
	if err := d.store.UpdateSchedule(ctx, cur); err != nil {
		d.logger.Error("rearm schedule error",
			slog.String("schedule_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
