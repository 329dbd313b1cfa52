package mapping

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tinyland-inc/slackrelay/pkg/logger"
)

// Table is the in-memory correlation table backed by a Store. Reads are
// cheap; ResolveOrCreate is serialized per thread id so two
// near-simultaneous mentions in the same thread cannot both observe
// "absent" and create two jobs.
type Table struct {
	mu      sync.RWMutex
	entries map[string]string
	store   *Store
	group   singleflight.Group
}

// NewTable loads the full persisted mapping at startup.
func NewTable(store *Store) (*Table, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Table{entries: entries, store: store}, nil
}

// Get returns the job id mapped to threadID, if any.
func (t *Table) Get(threadID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	jobID, ok := t.entries[threadID]
	return jobID, ok
}

// Len returns the number of mapped threads.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ResolveOrCreate returns the job id for threadID, invoking create at
// most once per thread across concurrent callers. A new mapping is
// persisted immediately; a persistence failure is logged and the
// in-memory entry stays authoritative until the next successful save.
func (t *Table) ResolveOrCreate(threadID string, create func() (string, error)) (string, error) {
	if jobID, ok := t.Get(threadID); ok {
		return jobID, nil
	}

	v, err, _ := t.group.Do(threadID, func() (any, error) {
		// Re-check: a concurrent caller may have just finished.
		if jobID, ok := t.Get(threadID); ok {
			return jobID, nil
		}

		jobID, err := create()
		if err != nil {
			return "", err
		}

		t.mu.Lock()
		t.entries[threadID] = jobID
		snapshot := make(map[string]string, len(t.entries))
		for k, v := range t.entries {
			snapshot[k] = v
		}
		t.mu.Unlock()

		if err := t.store.Save(snapshot); err != nil {
			logger.ErrorCF("mapping", "Failed to persist thread-job mapping", map[string]any{
				"thread_id": threadID,
				"error":     err.Error(),
			})
		} else {
			logger.InfoCF("mapping", "Thread mapped to job", map[string]any{
				"thread_id": threadID,
				"job_id":    jobID,
			})
		}

		return jobID, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving job for thread %s: %w", threadID, err)
	}
	return v.(string), nil
}
