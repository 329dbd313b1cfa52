package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobRecord is one completed exchange: a message sent into a job and
// the response that came back for it.
type JobRecord struct {
	ID          string        `json:"id"`
	JobID       string        `json:"job_id"`
	Message     string        `json:"message"`
	Response    string        `json:"response"`
	DeliveredAt time.Time     `json:"delivered_at"`
	Waited      time.Duration `json:"waited"`
}

// jobHistory groups a job's exchanges: the first delivery is the
// parent, later ones on the same job id are followers.
type jobHistory struct {
	Parent    JobRecord
	Following []JobRecord
}

// Archive keeps per-job delivery history for the lifetime of the
// process, for the status surface and for post-hoc inspection. It is
// bookkeeping only; nothing in the delivery path depends on it.
type Archive struct {
	mu   sync.RWMutex
	jobs map[string]*jobHistory
}

func NewArchive() *Archive {
	return &Archive{jobs: make(map[string]*jobHistory)}
}

// Record archives a confirmed delivery for job.
func (a *Archive) Record(job InFlightJob, response string) {
	rec := JobRecord{
		ID:          uuid.NewString(),
		JobID:       job.JobID,
		Message:     job.Message,
		Response:    response,
		DeliveredAt: now(),
		Waited:      now().Sub(job.SubmittedAt),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.jobs[job.JobID]; ok {
		h.Following = append(h.Following, rec)
		return
	}
	a.jobs[job.JobID] = &jobHistory{Parent: rec}
}

// History returns every archived exchange for jobID in delivery order.
func (a *Archive) History(jobID string) []JobRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([]JobRecord, 0, 1+len(h.Following))
	out = append(out, h.Parent)
	out = append(out, h.Following...)
	return out
}

// Totals reports the number of distinct jobs with at least one delivery
// and the total delivery count.
func (a *Archive) Totals() (jobs, deliveries int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, h := range a.jobs {
		jobs++
		deliveries += 1 + len(h.Following)
	}
	return jobs, deliveries
}
