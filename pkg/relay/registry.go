package relay

import (
	"errors"
	"sync"
	"time"
)

// ErrJobAlreadyInFlight is returned by Add when the job id is already
// awaiting a reply; at most one pending entry per job id may exist.
var ErrJobAlreadyInFlight = errors.New("job already in flight")

// InFlightJob is a job that has been sent a message and is awaiting a
// reply not yet delivered back to Slack. Owned exclusively by the
// Registry from Add until RemoveByJobID.
type InFlightJob struct {
	JobID       string
	Message     string
	ThreadID    string
	ChannelID   string
	SubmittedAt time.Time
}

// Registry is the ordered in-flight collection: append on submit, remove
// on confirmed delivery. Mutated by the inbound handler (Add) and the
// poll loop (RemoveByJobID) concurrently; all mutations are atomic under
// one mutex. The poll loop works off Snapshot so no lock is ever held
// across a network call.
type Registry struct {
	mu   sync.Mutex
	jobs []InFlightJob
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(job InFlightJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.JobID == job.JobID {
			return ErrJobAlreadyInFlight
		}
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Snapshot returns a stable copy in insertion order.
func (r *Registry) Snapshot() []InFlightJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InFlightJob, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// RemoveByJobID removes the entry for jobID, reporting whether it was
// present.
func (r *Registry) RemoveByJobID(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, j := range r.jobs {
		if j.JobID == jobID {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
