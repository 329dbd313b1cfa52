package relay

import (
	"context"
	"time"

	"github.com/tinyland-inc/slackrelay/pkg/logger"
)

// now is swapped out by tests that age jobs artificially.
var now = time.Now

// Poller is the single long-lived background loop that checks every
// in-flight job for a node response and relays it into the originating
// thread. Exactly one Poller runs per process.
type Poller struct {
	registry *Registry
	node     NodeClient
	poster   Poster
	archive  *Archive
	agentID  string
	interval time.Duration
	maxAge   time.Duration
}

// NewPoller configures the loop. interval <= 0 defaults to one second.
// maxAge 0 disables job expiry: a job that never gets an answer is
// retried forever.
func NewPoller(registry *Registry, node NodeClient, poster Poster, archive *Archive, agentID string, interval, maxAge time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		registry: registry,
		node:     node,
		poster:   poster,
		archive:  archive,
		agentID:  agentID,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run loops until ctx is canceled. Each tick snapshots the registry and
// polls jobs in insertion order; one job's failure never affects its
// siblings or the loop.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}

		if p.registry.Len() == 0 {
			continue
		}
		p.tick(ctx)
	}
}

func (p *Poller) tick(ctx context.Context) {
	jobs := p.registry.Snapshot()
	logger.DebugCF("relay", "Polling in-flight jobs", map[string]any{"count": len(jobs)})

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		p.pollOne(ctx, job)
	}
}

func (p *Poller) pollOne(ctx context.Context, job InFlightJob) {
	if p.maxAge > 0 && now().Sub(job.SubmittedAt) > p.maxAge {
		p.registry.RemoveByJobID(job.JobID)
		logger.ErrorCF("relay", "In-flight job expired without a reply", map[string]any{
			"job_id":    job.JobID,
			"thread_id": job.ThreadID,
			"age":       now().Sub(job.SubmittedAt).String(),
		})
		return
	}

	response, err := p.node.FetchLatestResponse(ctx, job.JobID, p.agentID)
	if err != nil {
		// Transient: the job stays in the registry for the next tick.
		logger.WarnCF("relay", "Poll failed for job", map[string]any{
			"job_id": job.JobID,
			"error":  err.Error(),
		})
		return
	}
	if response == "" {
		return
	}

	// Debug-submitted jobs have no Slack destination; the response itself
	// is the confirmation.
	if job.ChannelID == "" {
		p.registry.RemoveByJobID(job.JobID)
		p.archive.Record(job, response)
		logger.InfoCF("relay", "Response received for detached job", map[string]any{
			"job_id": job.JobID,
		})
		return
	}

	ok, err := p.poster.PostToThread(ctx, job.ChannelID, job.ThreadID, response)
	if err != nil || !ok {
		fields := map[string]any{"job_id": job.JobID, "thread_id": job.ThreadID}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.WarnCF("relay", "Delivery not confirmed, will retry", fields)
		return
	}

	// Confirmed delivery is the only path that retires a job.
	p.registry.RemoveByJobID(job.JobID)
	p.archive.Record(job, response)
	logger.InfoCF("relay", "Response delivered to thread", map[string]any{
		"job_id":    job.JobID,
		"thread_id": job.ThreadID,
		"waited":    now().Sub(job.SubmittedAt).String(),
	})
}
