package retry

import (
	"sync"
	"time"

	"github.com/voltrail/upload-engine/internal/model"
)

// HistoryRing retains RetryHistoryEntry values for a rolling TTL window.
// Expired entries are purged on a periodic sweep whose cadence is
// max(1 minute, retention/10), per §4.E.
type HistoryRing struct {
	retention time.Duration

	mu      sync.Mutex
	entries []model.RetryHistoryEntry
}

// NewHistoryRing builds a ring retaining entries for retention.
func NewHistoryRing(retention time.Duration) *HistoryRing {
	return &HistoryRing{retention: retention}
}

// Add appends one entry and opportunistically prunes expired ones.
func (h *HistoryRing) Add(e model.RetryHistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	h.pruneLocked(time.Now())
}

// Snapshot returns a pruned copy of the live entries.
func (h *HistoryRing) Snapshot() []model.RetryHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(time.Now())
	out := make([]model.RetryHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *HistoryRing) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.retention)
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// SweepInterval returns this ring's periodic-sweep cadence:
// max(1 minute, retention/10).
func (h *HistoryRing) SweepInterval() time.Duration {
	interval := h.retention / 10
	if interval < time.Minute {
		return time.Minute
	}
	return interval
}

// RunSweeper starts a goroutine that prunes on SweepInterval() until
// stop is closed.
func (h *HistoryRing) RunSweeper(stop <-chan struct{}) {
	t := time.NewTicker(h.SweepInterval())
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				h.mu.Lock()
				h.pruneLocked(now)
				h.mu.Unlock()
			}
		}
	}()
}
