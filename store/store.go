// Package store defines the aggregate persistence interface. Each
// subsystem (job, agent, schedule) defines its own store interface; the
// composite Store composes them all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/job"
	"github.com/Agora-Build/voxgrid/schedule"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores, so cross-subsystem operations (a
// claim touching both a job and its agent) stay inside one backend.
type Store interface {
	job.Store
	agent.Store
	schedule.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
