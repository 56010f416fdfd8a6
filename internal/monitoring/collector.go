package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Run log metrics (over the last LookbackRuns runs).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Filing totals summed across those runs.
	FilingsProcessed    int     `json:"filings_processed"`
	FilingsSucceeded    int     `json:"filings_succeeded"`
	FilingsFailed       int     `json:"filings_failed"`
	FilingsDeadLettered int     `json:"filings_dead_lettered"`
	FilingFailRate      float64 `json:"filing_fail_rate"`

	// DLQ depth right now.
	DLQDepth int `json:"dlq_depth"`

	// Today's persisted aggregate, nil when nothing processed yet.
	Today *model.DailyMetrics `json:"today,omitempty"`

	// Metadata.
	LookbackRuns int       `json:"lookback_runs"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Collector gathers health metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the most recent lookbackRuns runs.
func (c *Collector) Collect(ctx context.Context, lookbackRuns int) (*MetricsSnapshot, error) {
	if lookbackRuns <= 0 {
		lookbackRuns = 20
	}
	snap := &MetricsSnapshot{
		LookbackRuns: lookbackRuns,
		CollectedAt:  time.Now().UTC(),
	}

	runs, err := c.store.ListRuns(ctx, lookbackRuns)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunComplete:
			snap.RunsComplete++
		case model.RunFailed:
			snap.RunsFailed++
		case model.RunRunning:
			snap.RunsRunning++
		}
		snap.FilingsProcessed += r.Processed
		snap.FilingsSucceeded += r.Succeeded
		snap.FilingsFailed += r.Failed
		snap.FilingsDeadLettered += r.DeadLettered
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.FilingsProcessed > 0 {
		bad := snap.FilingsFailed + snap.FilingsDeadLettered
		snap.FilingFailRate = float64(bad) / float64(snap.FilingsProcessed)
	}

	depth, err := c.store.DLQDepth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: dlq depth")
	}
	snap.DLQDepth = depth

	today, err := c.store.DailyMetrics(ctx, snap.CollectedAt.Truncate(24*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: daily metrics")
	}
	if today != nil && today.TotalProcessed > 0 {
		snap.Today = today
	}

	return snap, nil
}
