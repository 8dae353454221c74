package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
)

func (s *Store) RegisterAgent(_ context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.agents[a.ID]; ok {
		return voxgrid.ErrAgentAlreadyExists
	}
	s.agents[a.ID] = cloneAgent(a)
	return nil
}

func (s *Store) GetAgent(_ context.Context, agentID id.AgentID) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	a, ok := s.agents[agentID]
	if !ok {
		return nil, voxgrid.ErrAgentNotFound
	}
	return cloneAgent(a), nil
}

func (s *Store) ListAgents(_ context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (s *Store) HeartbeatAgent(_ context.Context, agentID id.AgentID, state agent.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	a, ok := s.agents[agentID]
	if !ok {
		return voxgrid.ErrAgentNotFound
	}
	now := s.clock.Now()
	a.LastSeenAt = now
	a.UpdatedAt = now
	if state != "" {
		a.State = state
	}
	return nil
}

func (s *Store) SetAgentState(_ context.Context, agentID id.AgentID, state agent.State, touchJob bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	a, ok := s.agents[agentID]
	if !ok {
		return voxgrid.ErrAgentNotFound
	}
	now := s.clock.Now()
	a.State = state
	a.LastSeenAt = now
	a.UpdatedAt = now
	if touchJob {
		a.LastJobAt = &now
	}
	return nil
}

func (s *Store) MarkOfflineAgents(_ context.Context, threshold time.Duration) ([]*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	cutoff := now.Add(-threshold)

	var flipped []*agent.Agent
	for _, a := range s.agents {
		if a.State == agent.StateOffline || a.LastSeenAt.After(cutoff) {
			continue
		}
		a.State = agent.StateOffline
		a.UpdatedAt = now
		flipped = append(flipped, cloneAgent(a))
	}
	return flipped, nil
}

func (s *Store) SaveToken(_ context.Context, t *agent.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.tokens[t.ID] = cloneToken(t)
	s.tokensByDigest[t.Digest] = t.ID
	return nil
}

func (s *Store) GetTokenByDigest(_ context.Context, digest string) (*agent.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	tokenID, ok := s.tokensByDigest[digest]
	if !ok {
		return nil, voxgrid.ErrTokenNotFound
	}
	return cloneToken(s.tokens[tokenID]), nil
}

func (s *Store) RevokeToken(_ context.Context, tokenID id.TokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	t, ok := s.tokens[tokenID]
	if !ok {
		return voxgrid.ErrTokenNotFound
	}
	t.Revoked = true
	return nil
}

func (s *Store) ListTokens(_ context.Context, opts agent.ListOpts) ([]*agent.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*agent.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, cloneToken(t))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return paginate(out, opts.Limit, opts.Offset), nil
}
