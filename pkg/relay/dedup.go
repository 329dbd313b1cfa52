package relay

import "sync"

// Dedup tracks event ids already accepted in this process. Slack
// redelivers events aggressively, so the handler reserves an id before
// doing any work and releases it again if that work fails, leaving the
// redelivery free to retry. The set is unbounded for process lifetime.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// Reserve marks id as seen. Returns false if it was already reserved.
func (d *Dedup) Reserve(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Release frees a reservation after a failed processing attempt so a
// redelivery of the same event gets another chance.
func (d *Dedup) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
