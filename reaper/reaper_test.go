package reaper

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
)

// fakeJobs stubs the one job.Store method the reaper calls; the
// embedded interface panics on anything else.
type fakeJobs struct {
	job.Store

	released []*job.Job
	failed   []*job.Job
	err      error
	done     chan struct{}

	gotThreshold time.Duration
	calls        int
}

func (f *fakeJobs) ReleaseStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, []*job.Job, error) {
	f.calls++
	f.gotThreshold = threshold
	if f.done != nil {
		defer close(f.done)
	}
	return f.released, f.failed, f.err
}

type fakeAgents struct {
	agent.Store

	offline []*agent.Agent
	err     error
	hook    func(ctx context.Context)

	gotThreshold time.Duration
	calls        int
}

func (f *fakeAgents) MarkOfflineAgents(ctx context.Context, threshold time.Duration) ([]*agent.Agent, error) {
	f.calls++
	f.gotThreshold = threshold
	if f.hook != nil {
		f.hook(ctx)
	}
	return f.offline, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRunOnceSweepsBothStores(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{
		released: []*job.Job{{ID: id.NewJobID(), RetryCount: 1, MaxRetries: 3}},
		failed:   []*job.Job{{ID: id.NewJobID(), RetryCount: 3, MaxRetries: 3}},
	}
	agents := &fakeAgents{
		offline: []*agent.Agent{{ID: id.NewAgentID(), Region: voxgrid.RegionNA}},
	}

	r := New(jobs, agents, testLogger(), WithThreshold(2*time.Minute))
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if jobs.calls != 1 {
		t.Errorf("job sweep calls = %d, want 1", jobs.calls)
	}
	if agents.calls != 1 {
		t.Errorf("agent sweep calls = %d, want 1", agents.calls)
	}
	if jobs.gotThreshold != 2*time.Minute {
		t.Errorf("job threshold = %v, want 2m", jobs.gotThreshold)
	}
	if agents.gotThreshold != 2*time.Minute {
		t.Errorf("agent threshold = %v, want 2m", agents.gotThreshold)
	}
}

func TestRunOnceJobSweepErrorStillSweepsAgents(t *testing.T) {
	t.Parallel()

	sweepErr := errors.New("backend unavailable")
	jobs := &fakeJobs{err: sweepErr}
	agents := &fakeAgents{}

	r := New(jobs, agents, testLogger())
	err := r.RunOnce(context.Background())
	if !errors.Is(err, sweepErr) {
		t.Fatalf("RunOnce error = %v, want %v", err, sweepErr)
	}
	if agents.calls != 1 {
		t.Errorf("agent sweep calls = %d, want 1", agents.calls)
	}
}

func TestRunOnceJobSweepErrorDoesNotCancelAgentSweep(t *testing.T) {
	t.Parallel()

	jobsDone := make(chan struct{})
	jobs := &fakeJobs{err: errors.New("backend unavailable"), done: jobsDone}
	agents := &fakeAgents{}
	agents.hook = func(ctx context.Context) {
		// Wait until the job sweep has already returned its error, then
		// verify the agent sweep's context stays live.
		<-jobsDone
		select {
		case <-ctx.Done():
			t.Error("agent sweep context cancelled by the job sweep failure")
		case <-time.After(50 * time.Millisecond):
		}
	}

	r := New(jobs, agents, testLogger())
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() = nil error, want the job sweep error")
	}
	if agents.calls != 1 {
		t.Errorf("agent sweep calls = %d, want 1", agents.calls)
	}
}

func TestDefaultsComeFromConfig(t *testing.T) {
	t.Parallel()

	cfg := voxgrid.DefaultConfig()
	r := New(&fakeJobs{}, &fakeAgents{}, testLogger())
	if r.interval != cfg.ReapInterval {
		t.Errorf("interval = %v, want %v", r.interval, cfg.ReapInterval)
	}
	if r.threshold != cfg.StaleThreshold {
		t.Errorf("threshold = %v, want %v", r.threshold, cfg.StaleThreshold)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	agents := &fakeAgents{}
	r := New(jobs, agents, testLogger(), WithInterval(5*time.Millisecond))

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := r.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if jobs.calls == 0 {
		t.Error("sweep loop never ran")
	}
}
