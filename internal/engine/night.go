package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/monitoring"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

// NightBatch retries due dead-letter entries, most promising first. size
// caps the batch when positive; otherwise the configured night size applies.
func (e *Engine) NightBatch(ctx context.Context, size int) (store.RunCounters, error) {
	if size <= 0 {
		size = e.cfg.Batch.NightSize
	}

	runID, err := e.store.StartRun(ctx, model.RunNightBatch, nil)
	if err != nil {
		return store.RunCounters{}, err
	}

	tracker := monitoring.NewTracker()
	err = e.nightBatch(ctx, size, tracker)
	counters := tracker.Counters()

	status := model.RunComplete
	var errText *string
	if err != nil {
		status = model.RunFailed
		msg := err.Error()
		errText = &msg
	}
	if finErr := e.store.FinishRun(ctx, runID, status, counters, errText); finErr != nil {
		e.log.Error("failed to finalize night batch", zap.String("run_id", runID), zap.Error(finErr))
	}

	e.log.Info("night batch finished", append([]zap.Field{
		zap.String("run_id", runID),
		zap.String("status", string(status)),
	}, tracker.Fields()...)...)

	return counters, err
}

func (e *Engine) nightBatch(ctx context.Context, size int, tracker *monitoring.Tracker) error {
	entries, err := e.store.NightBatch(ctx, size, e.cfg.DLQ.MaxFileSizeMB, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "engine: select night batch")
	}
	if len(entries) == 0 {
		e.log.Info("dead-letter queue has no due entries")
		return nil
	}
	e.log.Info("retrying dead-letter entries",
		zap.Int("count", len(entries)),
		zap.Int("workers", e.cfg.Batch.Workers),
	)

	var mu sync.Mutex
	dates := make(map[time.Time]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Batch.Workers)
	for _, entry := range entries {
		g.Go(func() error {
			date, err := e.retryEntry(gctx, entry, tracker)
			if err != nil {
				return err
			}
			if !date.IsZero() {
				mu.Lock()
				dates[date] = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for date := range dates {
		if err := e.store.FlushDailyMetrics(ctx, date); err != nil {
			return eris.Wrap(err, "engine: flush daily metrics")
		}
	}
	return nil
}

// retryEntry reprocesses one queued filing at its suggested tier.
// It returns the filing date so the caller can flush that date's metrics.
func (e *Engine) retryEntry(ctx context.Context, entry resilience.DLQEntry, tracker *monitoring.Tracker) (time.Time, error) {
	f, err := e.store.GetFiling(ctx, entry.FilingID)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "engine: load filing %d", entry.FilingID)
	}
	if f == nil {
		// Filing aged out under retention; drop the orphaned entry.
		return time.Time{}, e.store.MarkDLQProcessed(ctx, entry.FilingID)
	}

	t := e.router.TierFor(f.FileSizeMB)
	if entry.SuggestedTier != nil {
		t = *entry.SuggestedTier
	}

	log := e.log.With(
		zap.String("accession", entry.AccessionNumber),
		zap.Int("attempt", entry.AttemptCount+1),
		zap.String("tier", string(t)),
	)

	if err := e.store.SetStatus(ctx, f.ID, model.StatusProcessing); err != nil {
		return time.Time{}, eris.Wrapf(err, "engine: mark processing %s", entry.AccessionNumber)
	}

	body, err := e.fetch.Get(ctx, f.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		return f.FilingDate, e.recordRetryFailure(ctx, entry, err.Error(), resilience.Classify(err), tracker, log)
	}

	outcome, err := e.parseAndStore(ctx, f.ID, t, body)
	if err != nil {
		return time.Time{}, err
	}

	switch {
	case outcome.timedOut:
		reason := "parse timed out after " + e.router.Timeout(t).String()
		return f.FilingDate, e.recordRetryFailure(ctx, entry, reason, model.FailureTimeout, tracker, log)
	case outcome.res.Success:
		if err := e.store.MarkDLQProcessed(ctx, f.ID); err != nil {
			return time.Time{}, eris.Wrapf(err, "engine: clear dlq entry %s", entry.AccessionNumber)
		}
		tracker.Success(t, outcome.duration)
		log.Info("dead-letter retry succeeded",
			zap.String("strategy", string(outcome.res.Strategy)),
			zap.Duration("duration", outcome.duration),
		)
		return f.FilingDate, nil
	default:
		return f.FilingDate, e.recordRetryFailure(ctx, entry, outcome.res.Error, model.FailureParsing, tracker, log)
	}
}

// recordRetryFailure bumps the attempt count, reevaluates the retry policy,
// and writes the entry back. Creation time survives the upsert.
func (e *Engine) recordRetryFailure(ctx context.Context, entry resilience.DLQEntry, reason string, ft model.FailureType, tracker *monitoring.Tracker, log *zap.Logger) error {
	entry.AttemptCount++
	entry.FailureReason = reason
	entry.FailureType = ft
	e.policy.Apply(&entry, time.Now().UTC())

	if err := e.store.AddToDLQ(ctx, entry); err != nil {
		return eris.Wrapf(err, "engine: dead-letter %s", entry.AccessionNumber)
	}
	tracker.DeadLetter()
	log.Warn("dead-letter retry failed",
		zap.String("failure_type", string(ft)),
		zap.Bool("retry_eligible", entry.RetryEligible),
	)
	return nil
}
