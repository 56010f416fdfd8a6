package monitoring

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

// Tracker accumulates per-run counters as concurrent workers finish
// filings. All methods are safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	processed    int
	succeeded    int
	failed       int
	deadLettered int
	byTier       map[model.Tier]int
	duration     time.Duration
}

// NewTracker creates an empty run tracker.
func NewTracker() *Tracker {
	return &Tracker{byTier: make(map[model.Tier]int)}
}

// Success records a filing that parsed and saved.
func (t *Tracker) Success(tier model.Tier, dur time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.succeeded++
	t.byTier[tier]++
	t.duration += dur
}

// Failure records a filing that errored without entering the DLQ.
func (t *Tracker) Failure(tier model.Tier, dur time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.failed++
	t.byTier[tier]++
	t.duration += dur
}

// DeadLetter records a filing routed to the dead-letter queue.
func (t *Tracker) DeadLetter() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.deadLettered++
}

// Counters returns the totals in the shape the run log stores.
func (t *Tracker) Counters() store.RunCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return store.RunCounters{
		Processed:    t.processed,
		Succeeded:    t.succeeded,
		Failed:       t.failed,
		DeadLettered: t.deadLettered,
	}
}

// Fields renders the current totals as zap fields for the run summary line.
func (t *Tracker) Fields() []zap.Field {
	t.mu.Lock()
	defer t.mu.Unlock()
	return []zap.Field{
		zap.Int("processed", t.processed),
		zap.Int("succeeded", t.succeeded),
		zap.Int("failed", t.failed),
		zap.Int("dead_lettered", t.deadLettered),
		zap.Int("standard", t.byTier[model.TierStandard]),
		zap.Int("limited", t.byTier[model.TierLimited]),
		zap.Int("minimal", t.byTier[model.TierMinimal]),
		zap.Duration("parse_time", t.duration),
	}
}
