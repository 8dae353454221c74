// Package memory implements the aggregate store in process memory.
// It backs tests and single-node development; nothing survives a
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
	"github.com/Agora-Build/voxgrid/schedule"
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for transition timestamps.
func WithClock(c voxgrid.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store is the in-memory backend. One mutex guards everything, which
// trivially gives the claim paths their at-most-one guarantee.
type Store struct {
	mu    sync.RWMutex
	clock voxgrid.Clock

	jobs           map[id.JobID]*job.Job
	agents         map[id.AgentID]*agent.Agent
	tokens         map[id.TokenID]*agent.Token
	tokensByDigest map[string]id.TokenID
	schedules      map[id.ScheduleID]*schedule.Schedule

	closed bool
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:          voxgrid.SystemClock{},
		jobs:           make(map[id.JobID]*job.Job),
		agents:         make(map[id.AgentID]*agent.Agent),
		tokens:         make(map[id.TokenID]*agent.Token),
		tokensByDigest: make(map[string]id.TokenID),
		schedules:      make(map[id.ScheduleID]*schedule.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the memory backend.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return voxgrid.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check() error {
	if s.closed {
		return voxgrid.ErrStoreClosed
	}
	return nil
}

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	return &cp
}

func cloneAgent(a *agent.Agent) *agent.Agent {
	cp := *a
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneToken(t *agent.Token) *agent.Token {
	cp := *t
	return &cp
}

func cloneSchedule(sc *schedule.Schedule) *schedule.Schedule {
	cp := *sc
	return &cp
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
