package agent

import (
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/id"
)

// State represents the liveness state of an agent.
type State string

const (
	// StateIdle means the agent is registered, alive, and holds no job.
	StateIdle State = "idle"
	// StateOccupied means the agent currently owns exactly one running job.
	StateOccupied State = "occupied"
	// StateOffline means the agent stopped heartbeating past the stale
	// threshold, or voluntarily reported disconnection. Set by the reaper
	// or by the agent itself, never by a claim.
	StateOffline State = "offline"
)

// Valid reports whether s is a member of the closed state set.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateOccupied, StateOffline:
		return true
	default:
		return false
	}
}

// Agent represents a registered regional worker. Agents are never hard
// deleted; a dead agent transitions to offline and stays in the registry.
type Agent struct {
	voxgrid.Entity

	ID       id.AgentID        `json:"id"`
	TokenID  id.TokenID        `json:"token_id"`
	Region   voxgrid.Region    `json:"region"`
	Name     string            `json:"name"`
	State    State             `json:"state"`
	Metadata map[string]string `json:"metadata,omitempty"`

	LastSeenAt time.Time  `json:"last_seen_at"`
	LastJobAt  *time.Time `json:"last_job_at,omitempty"`
}
