// Package agent defines the regional worker agent entity, its liveness
// state machine, the bearer-token credential agents register with, and
// the registry persistence contract.
package agent
