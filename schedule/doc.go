// Package schedule defines recurring and one-time production rules for
// eval jobs, their persistence contract, and the dispatcher loop that
// materializes due schedules into queued jobs.
package schedule
