package voxgrid

import "time"

// Config holds tuning for the coordination loops. Both reaper values are
// configuration, not hard-coded policy: deployments with chatty agents
// run tighter thresholds.
type Config struct {
	// ReapInterval is how often the stale reaper sweeps.
	ReapInterval time.Duration

	// StaleThreshold is how long an agent may stay silent before its
	// claimed jobs are released and the agent is marked offline.
	StaleThreshold time.Duration

	// DispatchInterval is how often the schedule dispatcher checks for
	// due schedules.
	DispatchInterval time.Duration

	// DefaultMaxRetries is applied to jobs enqueued without an explicit
	// retry budget.
	DefaultMaxRetries int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReapInterval:      60 * time.Second,
		StaleThreshold:    5 * time.Minute,
		DispatchInterval:  15 * time.Second,
		DefaultMaxRetries: 3,
		ShutdownTimeout:   30 * time.Second,
	}
}
