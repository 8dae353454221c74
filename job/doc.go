// Package job defines the Job entity, its status state machine, and the
// persistence contract for the job queue, including the atomic claim
// protocol that guarantees at most one agent ever holds a job.
package job
