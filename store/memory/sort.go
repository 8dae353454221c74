package memory

import (
	"sort"

	"github.com/Agora-Build/voxgrid/job"
)

// queueBefore reports whether a dequeues before b: higher priority
// first, then older CreatedAt, then ID for a stable total order.
func queueBefore(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sortQueueOrder(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool { return queueBefore(jobs[i], jobs[k]) })
}

func sortNewestFirst(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() > jobs[k].ID.String()
	})
}
