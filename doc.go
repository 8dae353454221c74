// Package voxgrid coordinates distributed evaluation work for voice-agent
// benchmarks. It schedules eval jobs, assigns them to geographically
// distributed worker agents with an at-most-one-concurrent-claim guarantee,
// tracks agent liveness through heartbeats, and recovers work from agents
// that go silent.
//
// Voxgrid is designed as a library, not a service. Import it, configure a
// store, and wire the coordinator, reaper, and schedule dispatcher into
// your control plane. cmd/voxgridd shows the standard wiring.
//
// # Architecture
//
// Voxgrid follows a composable store pattern where each subsystem (job,
// agent, schedule) defines its own store interface. A single backend
// implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package voxgrid
