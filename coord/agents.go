package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
)

// Authenticate resolves a presented bearer secret to its token. Unknown
// and revoked secrets are both voxgrid.ErrUnauthorized so callers leak
// nothing about which case occurred.
func (c *Coordinator) Authenticate(ctx context.Context, secret string) (*agent.Token, error) {
	if secret == "" {
		return nil, voxgrid.ErrUnauthorized
	}
	t, err := c.store.GetTokenByDigest(ctx, agent.DigestSecret(secret))
	if err != nil {
		if errors.Is(err, voxgrid.ErrTokenNotFound) {
			return nil, voxgrid.ErrUnauthorized
		}
		return nil, err
	}
	if t.Revoked {
		return nil, voxgrid.ErrUnauthorized
	}
	return t, nil
}

// IssueToken mints a credential for a region. The returned secret is
// shown once; only its digest is stored.
func (c *Coordinator) IssueToken(ctx context.Context, region voxgrid.Region, name string) (*agent.Token, string, error) {
	if !region.Valid() {
		return nil, "", fmt.Errorf("%w: %q", voxgrid.ErrInvalidRegion, region)
	}
	t, secret, err := agent.NewToken(region, name)
	if err != nil {
		return nil, "", err
	}
	if err := c.store.SaveToken(ctx, t); err != nil {
		return nil, "", err
	}
	c.logger.Info("token issued",
		slog.String("token_id", t.ID.String()),
		slog.String("region", t.Region.String()),
	)
	return t, secret, nil
}

// RevokeToken revokes a credential. Agents holding it lose access on
// their next request.
func (c *Coordinator) RevokeToken(ctx context.Context, tokenID id.TokenID) error {
	if err := c.store.RevokeToken(ctx, tokenID); err != nil {
		return err
	}
	c.logger.Info("token revoked", slog.String("token_id", tokenID.String()))
	return nil
}

// ListTokens returns issued tokens.
func (c *Coordinator) ListTokens(ctx context.Context, opts agent.ListOpts) ([]*agent.Token, error) {
	return c.store.ListTokens(ctx, opts)
}

// RegisterAgent adds an agent under the authenticated token. The agent
// inherits the token's region and starts idle.
func (c *Coordinator) RegisterAgent(ctx context.Context, tok *agent.Token, name string, metadata map[string]string) (*agent.Agent, error) {
	now := c.clock.Now()
	a := &agent.Agent{
		Entity:     voxgrid.NewEntityAt(now),
		ID:         id.NewAgentID(),
		TokenID:    tok.ID,
		Region:     tok.Region,
		Name:       name,
		State:      agent.StateIdle,
		Metadata:   metadata,
		LastSeenAt: now,
	}
	if err := c.store.RegisterAgent(ctx, a); err != nil {
		return nil, err
	}
	c.logger.Info("agent registered",
		slog.String("agent_id", a.ID.String()),
		slog.String("region", a.Region.String()),
		slog.String("name", a.Name),
	)
	return a, nil
}

// Heartbeat refreshes an agent's liveness. A non-empty state is the
// agent's self-report and overwrites the stored state, which is how an
// agent marked offline by the reaper comes back.
func (c *Coordinator) Heartbeat(ctx context.Context, tok *agent.Token, agentID id.AgentID, state agent.State) error {
	if _, err := c.ownedAgent(ctx, tok, agentID); err != nil {
		return err
	}
	if state != "" && !state.Valid() {
		return fmt.Errorf("%w: %q", voxgrid.ErrInvalidState, state)
	}
	return c.store.HeartbeatAgent(ctx, agentID, state)
}

// GetAgent retrieves an agent.
func (c *Coordinator) GetAgent(ctx context.Context, agentID id.AgentID) (*agent.Agent, error) {
	return c.store.GetAgent(ctx, agentID)
}

// ListAgents returns registered agents.
func (c *Coordinator) ListAgents(ctx context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	return c.store.ListAgents(ctx, opts)
}

// ownedAgent loads agentID and verifies the token registered it. The
// check keeps one fleet's credential from driving another fleet's
// agents.
func (c *Coordinator) ownedAgent(ctx context.Context, tok *agent.Token, agentID id.AgentID) (*agent.Agent, error) {
	a, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.TokenID != tok.ID {
		return nil, voxgrid.ErrTokenMismatch
	}
	return a, nil
}
