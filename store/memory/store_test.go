package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
)

func pendingJob(region voxgrid.Region, priority int, createdAt time.Time) *job.Job {
	return &job.Job{
		Entity:     voxgrid.NewEntityAt(createdAt),
		ID:         id.NewJobID(),
		WorkflowID: "wf-checkout",
		Region:     region,
		Status:     job.StatusPending,
		Priority:   priority,
		MaxRetries: 3,
	}
}

func registeredAgent(t *testing.T, s *Store, region voxgrid.Region, seenAt time.Time) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		Entity:     voxgrid.NewEntityAt(seenAt),
		ID:         id.NewAgentID(),
		TokenID:    id.NewTokenID(),
		Region:     region,
		Name:       "agent",
		State:      agent.StateIdle,
		LastSeenAt: seenAt,
	}
	if err := s.RegisterAgent(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestClaimNextJobAtMostOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	const jobs = 20
	const claimers = 50
	for i := 0; i < jobs; i++ {
		if err := s.EnqueueJob(ctx, pendingJob(voxgrid.RegionNA, 0, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	won := make(map[id.JobID]id.AgentID)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agentID := id.NewAgentID()
			j, err := s.ClaimNextJob(ctx, agentID, voxgrid.RegionNA)
			if err != nil {
				t.Error(err)
				return
			}
			if j == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, dup := won[j.ID]; dup {
				t.Errorf("job %s claimed by both %s and %s", j.ID, prev, agentID)
			}
			won[j.ID] = agentID
		}()
	}
	wg.Wait()

	if len(won) != jobs {
		t.Fatalf("claimed jobs = %d, want %d", len(won), jobs)
	}
	left, err := s.ListPendingJobs(ctx, voxgrid.RegionNA, job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("pending jobs after claims = %d, want 0", len(left))
	}
}

func TestClaimNextJobRegionIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	eu := pendingJob(voxgrid.RegionEU, 10, base)
	if err := s.EnqueueJob(ctx, eu); err != nil {
		t.Fatal(err)
	}

	j, err := s.ClaimNextJob(ctx, id.NewAgentID(), voxgrid.RegionNA)
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Fatalf("na claim returned eu job %s", j.ID)
	}

	j, err = s.ClaimNextJob(ctx, id.NewAgentID(), voxgrid.RegionEU)
	if err != nil {
		t.Fatal(err)
	}
	if j == nil || j.ID != eu.ID {
		t.Fatalf("eu claim = %v, want job %s", j, eu.ID)
	}
}

func TestClaimNextJobOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	low := pendingJob(voxgrid.RegionNA, 1, base)
	midOld := pendingJob(voxgrid.RegionNA, 5, base)
	midNew := pendingJob(voxgrid.RegionNA, 5, base.Add(time.Minute))
	high := pendingJob(voxgrid.RegionNA, 10, base.Add(2*time.Minute))
	for _, j := range []*job.Job{low, midNew, high, midOld} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	want := []id.JobID{high.ID, midOld.ID, midNew.ID, low.ID}
	for i, wantID := range want {
		j, err := s.ClaimNextJob(ctx, id.NewAgentID(), voxgrid.RegionNA)
		if err != nil {
			t.Fatal(err)
		}
		if j == nil || j.ID != wantID {
			t.Fatalf("claim %d = %v, want job %s", i, j, wantID)
		}
	}
}

func TestClaimJobLosesRaceCleanly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	j := pendingJob(voxgrid.RegionNA, 0, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	first, err := s.ClaimJob(ctx, j.ID, id.NewAgentID(), voxgrid.RegionNA)
	if err != nil || first == nil {
		t.Fatalf("first claim = (%v, %v), want win", first, err)
	}
	if first.Status != job.StatusRunning || first.StartedAt == nil {
		t.Fatalf("claimed job = %+v, want running with StartedAt", first)
	}

	second, err := s.ClaimJob(ctx, j.ID, id.NewAgentID(), voxgrid.RegionNA)
	if err != nil {
		t.Fatalf("lost claim returned error %v, want nil", err)
	}
	if second != nil {
		t.Fatalf("lost claim returned job %s, want nil", second.ID)
	}
}

func TestReleaseStaleJobsRetryBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := base
	s := New(WithClock(voxgrid.ClockFunc(func() time.Time { return now })))

	dead := registeredAgent(t, s, voxgrid.RegionNA, base)

	withBudget := pendingJob(voxgrid.RegionNA, 0, base)
	withBudget.MaxRetries = 3
	exhausted := pendingJob(voxgrid.RegionNA, 0, base)
	exhausted.MaxRetries = 2
	exhausted.RetryCount = 2
	for _, j := range []*job.Job{withBudget, exhausted} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ClaimJob(ctx, j.ID, dead.ID, voxgrid.RegionNA); err != nil {
			t.Fatal(err)
		}
	}

	// Within the threshold nothing is stale.
	now = base.Add(time.Minute)
	released, failed, err := s.ReleaseStaleJobs(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(released)+len(failed) != 0 {
		t.Fatalf("fresh sweep released %d failed %d, want 0", len(released), len(failed))
	}

	now = base.Add(10 * time.Minute)
	released, failed, err = s.ReleaseStaleJobs(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 1 || released[0].ID != withBudget.ID {
		t.Fatalf("released = %v, want job %s", released, withBudget.ID)
	}
	if len(failed) != 1 || failed[0].ID != exhausted.ID {
		t.Fatalf("failed = %v, want job %s", failed, exhausted.ID)
	}

	got, err := s.GetJob(ctx, withBudget.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending || got.RetryCount != 1 {
		t.Errorf("released job = status %s retries %d, want pending/1", got.Status, got.RetryCount)
	}
	if !got.AgentID.IsNil() || got.StartedAt != nil {
		t.Errorf("released job keeps assignment: agent %s started %v", got.AgentID, got.StartedAt)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("released job CreatedAt = %v, want original %v", got.CreatedAt, base)
	}

	got, err = s.GetJob(ctx, exhausted.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusFailed || got.Error != job.TimeoutError {
		t.Errorf("exhausted job = status %s error %q", got.Status, got.Error)
	}
}

func TestCompleteJobIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	j := pendingJob(voxgrid.RegionNA, 0, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimJob(ctx, j.ID, id.NewAgentID(), voxgrid.RegionNA); err != nil {
		t.Fatal(err)
	}

	first, changed, err := s.CompleteJob(ctx, j.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !changed || first.Status != job.StatusCompleted {
		t.Fatalf("first completion = (%s, %t)", first.Status, changed)
	}

	// A late duplicate, even one reporting failure, changes nothing.
	second, changed, err := s.CompleteJob(ctx, j.ID, "crashed")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("duplicate completion reported changed = true")
	}
	if second.Status != job.StatusCompleted || second.Error != "" {
		t.Errorf("job after duplicate = status %s error %q", second.Status, second.Error)
	}
}

func TestCancelJobOnlyWhilePending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	p := pendingJob(voxgrid.RegionNA, 0, base)
	if err := s.EnqueueJob(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.CancelJob(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != job.StatusFailed || got.Error != job.CancelledError {
		t.Fatalf("cancelled job = %+v", got)
	}

	r := pendingJob(voxgrid.RegionNA, 0, base)
	if err := s.EnqueueJob(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimJob(ctx, r.ID, id.NewAgentID(), voxgrid.RegionNA); err != nil {
		t.Fatal(err)
	}
	got, err = s.CancelJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("late cancel returned error %v, want nil", err)
	}
	if got != nil {
		t.Fatalf("late cancel returned job %s, want nil", got.ID)
	}
}

func TestMarkOfflineAgents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := base.Add(10 * time.Minute)
	s := New(WithClock(voxgrid.ClockFunc(func() time.Time { return now })))

	stale := registeredAgent(t, s, voxgrid.RegionNA, base)
	fresh := registeredAgent(t, s, voxgrid.RegionNA, now.Add(-time.Minute))

	flipped, err := s.MarkOfflineAgents(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(flipped) != 1 || flipped[0].ID != stale.ID {
		t.Fatalf("flipped = %v, want agent %s", flipped, stale.ID)
	}

	got, err := s.GetAgent(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != agent.StateIdle {
		t.Errorf("fresh agent state = %s, want idle", got.State)
	}

	// Already-offline agents are not flipped again.
	flipped, err = s.MarkOfflineAgents(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(flipped) != 0 {
		t.Fatalf("second sweep flipped %d agents, want 0", len(flipped))
	}
}

func TestHeartbeatSelfReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := base.Add(10 * time.Minute)
	s := New(WithClock(voxgrid.ClockFunc(func() time.Time { return now })))

	a := registeredAgent(t, s, voxgrid.RegionNA, base)
	if _, err := s.MarkOfflineAgents(ctx, 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	// A heartbeat reporting idle brings the agent back.
	if err := s.HeartbeatAgent(ctx, a.ID, agent.StateIdle); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != agent.StateIdle || !got.LastSeenAt.Equal(now) {
		t.Errorf("agent after heartbeat = state %s seen %v", got.State, got.LastSeenAt)
	}

	// An empty state refreshes liveness without touching state.
	if err := s.SetAgentState(ctx, a.ID, agent.StateOccupied, true); err != nil {
		t.Fatal(err)
	}
	if err := s.HeartbeatAgent(ctx, a.ID, ""); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != agent.StateOccupied {
		t.Errorf("state after empty heartbeat = %s, want occupied", got.State)
	}
	if got.LastJobAt == nil || !got.LastJobAt.Equal(now) {
		t.Errorf("LastJobAt = %v, want %v", got.LastJobAt, now)
	}
}

func TestTokenLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	tok, secret, err := agent.NewToken(voxgrid.RegionAPAC, "apac-fleet")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTokenByDigest(ctx, agent.DigestSecret(secret))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != tok.ID || got.Region != voxgrid.RegionAPAC {
		t.Fatalf("looked-up token = %+v", got)
	}

	if _, err := s.GetTokenByDigest(ctx, agent.DigestSecret("wrong")); err != voxgrid.ErrTokenNotFound {
		t.Fatalf("unknown digest error = %v, want ErrTokenNotFound", err)
	}

	if err := s.RevokeToken(ctx, tok.ID); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetTokenByDigest(ctx, agent.DigestSecret(secret))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Revoked {
		t.Error("token not marked revoked")
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != voxgrid.ErrStoreClosed {
		t.Errorf("Ping error = %v, want ErrStoreClosed", err)
	}
	if err := s.EnqueueJob(ctx, pendingJob(voxgrid.RegionNA, 0, time.Now())); err != voxgrid.ErrStoreClosed {
		t.Errorf("EnqueueJob error = %v, want ErrStoreClosed", err)
	}
}
