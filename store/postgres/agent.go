package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
)

const agentColumns = `
	id, token_id, region, name, state, metadata,
	last_seen_at, last_job_at, created_at, updated_at`

// RegisterAgent adds a new agent.
func (s *Store) RegisterAgent(ctx context.Context, a *agent.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voxgrid_agents (
			id, token_id, region, name, state, metadata,
			last_seen_at, last_job_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TokenID, string(a.Region), a.Name, string(a.State), a.Metadata,
		a.LastSeenAt, a.LastJobAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return voxgrid.ErrAgentAlreadyExists
		}
		return fmt.Errorf("voxgrid/postgres: register agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, agentID id.AgentID) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+agentColumns+` FROM voxgrid_agents WHERE id = $1`,
		agentID,
	)
	a, err := scanAgent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxgrid.ErrAgentNotFound
		}
		return nil, fmt.Errorf("voxgrid/postgres: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns registered agents ordered by CreatedAt.
func (s *Store) ListAgents(ctx context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	query := `SELECT` + agentColumns + ` FROM voxgrid_agents ORDER BY created_at ASC, id ASC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, scanErr := scanAgent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("voxgrid/postgres: scan agent: %w", scanErr)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: iterate agents: %w", err)
	}
	return agents, nil
}

// HeartbeatAgent refreshes liveness and applies a self-reported state.
func (s *Store) HeartbeatAgent(ctx context.Context, agentID id.AgentID, state agent.State) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE voxgrid_agents
		SET last_seen_at = NOW(), updated_at = NOW(),
		    state = CASE WHEN $2::text = '' THEN state ELSE $2::text END
		WHERE id = $1`,
		agentID, string(state),
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: heartbeat agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return voxgrid.ErrAgentNotFound
	}
	return nil
}

// SetAgentState records a claim or completion transition.
func (s *Store) SetAgentState(ctx context.Context, agentID id.AgentID, state agent.State, touchJob bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE voxgrid_agents
		SET state = $2, last_seen_at = NOW(), updated_at = NOW(),
		    last_job_at = CASE WHEN $3 THEN NOW() ELSE last_job_at END
		WHERE id = $1`,
		agentID, string(state), touchJob,
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: set agent state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return voxgrid.ErrAgentNotFound
	}
	return nil
}

// MarkOfflineAgents flips silent agents offline and returns them.
func (s *Store) MarkOfflineAgents(ctx context.Context, threshold time.Duration) ([]*agent.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE voxgrid_agents
		SET state = 'offline', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM voxgrid_agents
			WHERE state <> 'offline'
			  AND last_seen_at < NOW() - make_interval(secs => $1)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+agentColumns,
		threshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: mark offline agents: %w", err)
	}
	defer rows.Close()

	var flipped []*agent.Agent
	for rows.Next() {
		a, scanErr := scanAgent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("voxgrid/postgres: scan agent: %w", scanErr)
		}
		flipped = append(flipped, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: iterate agents: %w", err)
	}
	return flipped, nil
}

// SaveToken persists a newly issued token.
func (s *Store) SaveToken(ctx context.Context, t *agent.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO voxgrid_tokens (id, digest, region, name, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Digest, string(t.Region), t.Name, t.Revoked, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: save token: %w", err)
	}
	return nil
}

// GetTokenByDigest looks a token up by secret digest.
func (s *Store) GetTokenByDigest(ctx context.Context, digest string) (*agent.Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, digest, region, name, revoked, created_at
		FROM voxgrid_tokens WHERE digest = $1`,
		digest,
	)
	t, err := scanToken(row)
	if err != nil {
		if isNoRows(err) {
			return nil, voxgrid.ErrTokenNotFound
		}
		return nil, fmt.Errorf("voxgrid/postgres: get token: %w", err)
	}
	return t, nil
}

// RevokeToken marks a token revoked.
func (s *Store) RevokeToken(ctx context.Context, tokenID id.TokenID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE voxgrid_tokens SET revoked = TRUE WHERE id = $1`,
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("voxgrid/postgres: revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return voxgrid.ErrTokenNotFound
	}
	return nil
}

// ListTokens returns issued tokens ordered by CreatedAt.
func (s *Store) ListTokens(ctx context.Context, opts agent.ListOpts) ([]*agent.Token, error) {
	query := `SELECT id, digest, region, name, revoked, created_at
		FROM voxgrid_tokens ORDER BY created_at ASC, id ASC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*agent.Token
	for rows.Next() {
		t, scanErr := scanToken(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("voxgrid/postgres: scan token: %w", scanErr)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voxgrid/postgres: iterate tokens: %w", err)
	}
	return tokens, nil
}

func scanAgent(row pgx.Row) (*agent.Agent, error) {
	var (
		a         agent.Agent
		regionStr string
		stateStr  string
	)
	err := row.Scan(
		&a.ID, &a.TokenID, &regionStr, &a.Name, &stateStr, &a.Metadata,
		&a.LastSeenAt, &a.LastJobAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Region = voxgrid.Region(regionStr)
	a.State = agent.State(stateStr)
	return &a, nil
}

func scanToken(row pgx.Row) (*agent.Token, error) {
	var (
		t         agent.Token
		regionStr string
	)
	err := row.Scan(&t.ID, &t.Digest, &regionStr, &t.Name, &t.Revoked, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Region = voxgrid.Region(regionStr)
	return &t, nil
}
