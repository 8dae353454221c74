package agent

import (
	"context"
	"time"

	"github.com/Agora-Build/voxgrid/id"
)

// ListOpts controls pagination for agent list queries.
type ListOpts struct {
	// Limit is the maximum number of agents to return. Zero means no limit.
	Limit int
	// Offset is the number of agents to skip.
	Offset int
}

// Store defines the persistence contract for the agent registry and the
// token credentials agents authenticate with.
type Store interface {
	// RegisterAgent adds a new agent in idle state with LastSeenAt set.
	RegisterAgent(ctx context.Context, a *Agent) error

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, agentID id.AgentID) (*Agent, error)

	// ListAgents returns registered agents ordered by CreatedAt.
	ListAgents(ctx context.Context, opts ListOpts) ([]*Agent, error)

	// HeartbeatAgent refreshes LastSeenAt and, when state is non-empty,
	// overwrites the agent's state with the self-reported value. It never
	// creates an agent: an unknown ID is voxgrid.ErrAgentNotFound.
	HeartbeatAgent(ctx context.Context, agentID id.AgentID, state State) error

	// SetAgentState records a claim or completion transition. touchJob
	// additionally stamps LastJobAt (set on claim, not on completion).
	// LastSeenAt is refreshed either way: a claim is proof of life.
	SetAgentState(ctx context.Context, agentID id.AgentID, state State, touchJob bool) error

	// MarkOfflineAgents flips every agent not already offline whose
	// LastSeenAt is older than threshold, and returns the agents flipped.
	MarkOfflineAgents(ctx context.Context, threshold time.Duration) ([]*Agent, error)

	// SaveToken persists a newly issued token.
	SaveToken(ctx context.Context, t *Token) error

	// GetTokenByDigest looks a token up by the digest of a presented
	// secret. Unknown digests are voxgrid.ErrTokenNotFound; revocation is
	// the caller's check (the row is returned with Revoked set).
	GetTokenByDigest(ctx context.Context, digest string) (*Token, error)

	// RevokeToken marks a token revoked. Agents registered with it fail
	// authentication from the next request on.
	RevokeToken(ctx context.Context, tokenID id.TokenID) error

	// ListTokens returns issued tokens ordered by CreatedAt.
	ListTokens(ctx context.Context, opts ListOpts) ([]*Token, error)
}
