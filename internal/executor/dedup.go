package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same trade intent from being executed more than once
// within a configurable time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // intentID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an intent ID as a duplicate if it has
// been seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether intentID was seen within the TTL window. An
// unseen (or expired) ID is recorded and false is returned. Empty IDs are
// never duplicates.
func (d *Dedup) IsDuplicate(intentID string) bool {
	if intentID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if seenAt, ok := d.seen[intentID]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[intentID] = now
	return false
}

// Forget drops intentID so a failed intent can be resubmitted.
func (d *Dedup) Forget(intentID string) {
	d.mu.Lock()
	delete(d.seen, intentID)
	d.mu.Unlock()
}

// Cleanup removes expired entries. Call it periodically.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
