// Package reaper runs the background staleness sweeps: running jobs
// whose agent stopped heartbeating go back to the queue (or fail
// terminally once out of retries), and silent agents are marked
// offline.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/job"
	"github.com/Agora-Build/voxgrid/metrics"
)

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets how often the sweeps run.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) { r.interval = d }
}

// WithThreshold sets the heartbeat silence after which jobs and agents
// are considered stale.
func WithThreshold(d time.Duration) Option {
	return func(r *Reaper) { r.threshold = d }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Reaper) { r.collector = c }
}

// Reaper periodically releases stale jobs and marks silent agents
// offline. Both sweeps act on the same staleness threshold so a dead
// agent loses its job and its live status in the same pass.
type Reaper struct {
	jobs      job.Store
	agents    agent.Store
	logger    *slog.Logger
	collector *metrics.Collector
	interval  time.Duration
	threshold time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Reaper over the given stores.
func New(jobs job.Store, agents agent.Store, logger *slog.Logger, opts ...Option) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := voxgrid.DefaultConfig()
	r := &Reaper{
		jobs:      jobs,
		agents:    agents,
		logger:    logger,
		collector: metrics.New(),
		interval:  cfg.ReapInterval,
		threshold: cfg.StaleThreshold,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep goroutine.
func (r *Reaper) Start(_ context.Context) error {
	r.wg.Add(1)
	go r.sweepLoop()
	r.logger.Info("reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("threshold", r.threshold),
	)
	return nil
}

// Stop signals the reaper to stop and waits for the loop to finish.
func (r *Reaper) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("reaper stopped")
	return nil
}

func (r *Reaper) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error("reaper sweep error", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce performs one sweep of both stores. The job and agent sweeps
// are independent, so they run concurrently against the caller's
// context; one sweep failing must not cut the other one short.
func (r *Reaper) RunOnce(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return r.sweepJobs(ctx) })
	g.Go(func() error { return r.sweepAgents(ctx) })
	return g.Wait()
}

func (r *Reaper) sweepJobs(ctx context.Context) error {
	released, failed, err := r.jobs.ReleaseStaleJobs(ctx, r.threshold)
	if err != nil {
		return err
	}
	if len(released) == 0 && len(failed) == 0 {
		return nil
	}

	r.collector.Released(ctx, len(released))
	r.collector.TimedOut(ctx, len(failed))

	for _, j := range released {
		r.logger.Warn("stale job released",
			slog.String("job_id", j.ID.String()),
			slog.Int("retry_count", j.RetryCount),
			slog.Int("max_retries", j.MaxRetries),
		)
	}
	for _, j := range failed {
		r.logger.Warn("stale job failed after exhausting retries",
			slog.String("job_id", j.ID.String()),
			slog.Int("retry_count", j.RetryCount),
		)
	}
	return nil
}

func (r *Reaper) sweepAgents(ctx context.Context) error {
	offline, err := r.agents.MarkOfflineAgents(ctx, r.threshold)
	if err != nil {
		return err
	}
	if len(offline) == 0 {
		return nil
	}

	r.collector.Offline(ctx, len(offline))
	for _, a := range offline {
		r.logger.Warn("agent marked offline",
			slog.String("agent_id", a.ID.String()),
			slog.String("region", a.Region.String()),
			slog.Time("last_seen_at", a.LastSeenAt),
		)
	}
	return nil
}
