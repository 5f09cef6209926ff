package monitor

import "sync"

// FailureTracker counts consecutive sweep failures per device.
// It is safe for concurrent use.
type FailureTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewFailureTracker creates a new tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{counts: make(map[string]int)}
}

// Fail records one more failure for id and returns the consecutive count.
func (t *FailureTracker) Fail(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[id]++
	return t.counts[id]
}

// Succeed clears the failure streak for id.
func (t *FailureTracker) Succeed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, id)
}

// Count returns the current streak for id.
func (t *FailureTracker) Count(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id]
}

// Retain forgets every device not in ids, e.g. devices that are no longer stale.
func (t *FailureTracker) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.counts {
		if _, ok := keep[id]; !ok {
			delete(t.counts, id)
		}
	}
}
