//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
	"github.com/Agora-Build/voxgrid/schedule"
	"github.com/Agora-Build/voxgrid/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("voxgrid_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func testToken(t *testing.T, s *postgres.Store, region voxgrid.Region) *agent.Token {
	t.Helper()
	tok, _, err := agent.NewToken(region, "test-fleet")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveToken(context.Background(), tok); err != nil {
		t.Fatal(err)
	}
	return tok
}

func testAgent(t *testing.T, s *postgres.Store, tok *agent.Token) *agent.Agent {
	t.Helper()
	a := &agent.Agent{
		Entity:     voxgrid.NewEntity(),
		ID:         id.NewAgentID(),
		TokenID:    tok.ID,
		Region:     tok.Region,
		Name:       "test-agent",
		State:      agent.StateIdle,
		Metadata:   map[string]string{"zone": "us-east-1a"},
		LastSeenAt: time.Now().UTC(),
	}
	if err := s.RegisterAgent(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func testJob(region voxgrid.Region, priority int) *job.Job {
	return &job.Job{
		Entity:     voxgrid.NewEntity(),
		ID:         id.NewJobID(),
		WorkflowID: "wf-checkout",
		EvalSetID:  "es-regression",
		Region:     region,
		Status:     job.StatusPending,
		Priority:   priority,
		MaxRetries: 3,
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestJobStore_EnqueueAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob(voxgrid.RegionNA, 5)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); err != voxgrid.ErrJobAlreadyExists {
		t.Fatalf("duplicate enqueue error = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != j.ID || got.Status != job.StatusPending || got.Priority != 5 {
		t.Fatalf("got = %+v", got)
	}
	if !got.ScheduleID.IsNil() || !got.AgentID.IsNil() {
		t.Fatalf("optional ids not nil: schedule %v agent %v", got.ScheduleID, got.AgentID)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); err != voxgrid.ErrJobNotFound {
		t.Fatalf("unknown job error = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_ClaimNextOrderingAndRegion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	low := testJob(voxgrid.RegionNA, 1)
	high := testJob(voxgrid.RegionNA, 10)
	eu := testJob(voxgrid.RegionEU, 100)
	for _, j := range []*job.Job{low, high, eu} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	agentID := id.NewAgentID()
	got, err := s.ClaimNextJob(ctx, agentID, voxgrid.RegionNA)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != high.ID {
		t.Fatalf("first claim = %v, want high-priority job %s", got, high.ID)
	}
	if got.Status != job.StatusRunning || got.AgentID != agentID || got.StartedAt == nil {
		t.Fatalf("claimed job = %+v", got)
	}

	got, err = s.ClaimNextJob(ctx, agentID, voxgrid.RegionNA)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != low.ID {
		t.Fatalf("second claim = %v, want %s", got, low.ID)
	}

	got, err = s.ClaimNextJob(ctx, agentID, voxgrid.RegionNA)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("empty-queue claim returned %v (eu job leaked across regions)", got)
	}
}

func TestJobStore_ConcurrentClaimsAtMostOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const jobs = 10
	const claimers = 30
	for i := 0; i < jobs; i++ {
		if err := s.EnqueueJob(ctx, testJob(voxgrid.RegionNA, 0)); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	won := make(map[id.JobID]bool)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.ClaimNextJob(ctx, id.NewAgentID(), voxgrid.RegionNA)
			if err != nil {
				t.Error(err)
				return
			}
			if j == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if won[j.ID] {
				t.Errorf("job %s claimed twice", j.ID)
			}
			won[j.ID] = true
		}()
	}
	wg.Wait()

	if len(won) != jobs {
		t.Fatalf("claimed = %d, want %d", len(won), jobs)
	}
}

func TestJobStore_CompleteIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob(voxgrid.RegionNA, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimJob(ctx, j.ID, id.NewAgentID(), voxgrid.RegionNA); err != nil {
		t.Fatal(err)
	}

	got, changed, err := s.CompleteJob(ctx, j.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !changed || got.Status != job.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("first completion = (%+v, %t)", got, changed)
	}

	got, changed, err = s.CompleteJob(ctx, j.ID, "late error")
	if err != nil {
		t.Fatal(err)
	}
	if changed || got.Status != job.StatusCompleted || got.Error != "" {
		t.Fatalf("duplicate completion = (%+v, %t)", got, changed)
	}
}

func TestJobStore_CancelOnlyPending(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob(voxgrid.RegionNA, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	got, err := s.CancelJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != job.StatusFailed || got.Error != job.CancelledError {
		t.Fatalf("cancel = %+v", got)
	}

	got, err = s.CancelJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("late cancel = %+v, want nil", got)
	}

	if _, err := s.CancelJob(ctx, id.NewJobID()); err != voxgrid.ErrJobNotFound {
		t.Fatalf("unknown cancel error = %v, want ErrJobNotFound", err)
	}
}

func TestJobStore_ReleaseStaleJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tok := testToken(t, s, voxgrid.RegionNA)
	dead := testAgent(t, s, tok)

	withBudget := testJob(voxgrid.RegionNA, 0)
	exhausted := testJob(voxgrid.RegionNA, 0)
	exhausted.MaxRetries = 0
	for _, j := range []*job.Job{withBudget, exhausted} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ClaimJob(ctx, j.ID, dead.ID, voxgrid.RegionNA); err != nil {
			t.Fatal(err)
		}
	}

	// The agent heartbeated just now, so a sweep with a tight threshold
	// still finds nothing.
	if err := s.HeartbeatAgent(ctx, dead.ID, ""); err != nil {
		t.Fatal(err)
	}
	released, failed, err := s.ReleaseStaleJobs(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(released)+len(failed) != 0 {
		t.Fatalf("fresh sweep released %d failed %d", len(released), len(failed))
	}

	// A zero threshold makes everything stale immediately.
	time.Sleep(50 * time.Millisecond)
	released, failed, err = s.ReleaseStaleJobs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 1 || released[0].ID != withBudget.ID {
		t.Fatalf("released = %v", released)
	}
	if len(failed) != 1 || failed[0].ID != exhausted.ID {
		t.Fatalf("failed = %v", failed)
	}

	got, err := s.GetJob(ctx, withBudget.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusPending || got.RetryCount != 1 || !got.AgentID.IsNil() {
		t.Fatalf("released job = %+v", got)
	}
	got, err = s.GetJob(ctx, exhausted.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusFailed || got.Error != job.TimeoutError {
		t.Fatalf("exhausted job = %+v", got)
	}
}

func TestAgentStore_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tok := testToken(t, s, voxgrid.RegionAPAC)
	a := testAgent(t, s, tok)

	got, err := s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Region != voxgrid.RegionAPAC || got.State != agent.StateIdle {
		t.Fatalf("agent = %+v", got)
	}
	if got.Metadata["zone"] != "us-east-1a" {
		t.Fatalf("metadata = %v", got.Metadata)
	}

	if err := s.SetAgentState(ctx, a.ID, agent.StateOccupied, true); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != agent.StateOccupied || got.LastJobAt == nil {
		t.Fatalf("agent after claim = %+v", got)
	}

	// Everything heartbeated recently, nothing to flip.
	flipped, err := s.MarkOfflineAgents(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(flipped) != 0 {
		t.Fatalf("flipped = %v", flipped)
	}

	time.Sleep(50 * time.Millisecond)
	flipped, err = s.MarkOfflineAgents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(flipped) != 1 || flipped[0].ID != a.ID {
		t.Fatalf("flipped = %v", flipped)
	}

	// The self-report on the next heartbeat brings it back.
	if err := s.HeartbeatAgent(ctx, a.ID, agent.StateIdle); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != agent.StateIdle {
		t.Fatalf("agent after recovery heartbeat = %+v", got)
	}
}

func TestTokenStore_DigestLookupAndRevoke(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tok, secret, err := agent.NewToken(voxgrid.RegionEU, "eu-fleet")
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
	if got.ID != tok.ID || got.Revoked {
		t.Fatalf("token = %+v", got)
	}

	if _, err := s.GetTokenByDigest(ctx, agent.DigestSecret("bogus")); err != voxgrid.ErrTokenNotFound {
		t.Fatalf("unknown digest error = %v", err)
	}

	if err := s.RevokeToken(ctx, tok.ID); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetTokenByDigest(ctx, agent.DigestSecret(secret))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Revoked {
		t.Fatal("token not revoked")
	}
}

func TestScheduleStore_FireCAS(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	next := time.Now().UTC().Truncate(time.Minute)
	sc := &schedule.Schedule{
		Entity:         voxgrid.NewEntity(),
		ID:             id.NewScheduleID(),
		WorkflowID:     "wf-checkout",
		Region:         voxgrid.RegionNA,
		Type:           schedule.TypeRecurring,
		CronExpression: "*/15 * * * *",
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := s.CreateSchedule(ctx, sc); err != nil {
		t.Fatal(err)
	}

	due, err := s.ListDueSchedules(ctx, next.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != sc.ID {
		t.Fatalf("due = %v", due)
	}

	firedAt := next.Add(time.Second)
	newNext := next.Add(15 * time.Minute)
	fired, err := s.FireSchedule(ctx, sc.ID, next, firedAt, &newNext, true)
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("first fire lost")
	}

	// The guard value moved, so replaying the same fire loses.
	fired, err = s.FireSchedule(ctx, sc.ID, next, firedAt, &newNext, true)
	if err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Fatal("replayed fire won")
	}

	got, err := s.GetSchedule(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 1 || got.NextRunAt == nil || !got.NextRunAt.Equal(newNext) {
		t.Fatalf("schedule after fire = %+v", got)
	}
}
