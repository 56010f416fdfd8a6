// Package engine orchestrates a day of ingestion: discovery, tier routing,
// fetching, parsing, tier-gated extraction, persistence, and dead-letter
// handling.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ncsr-ingest/internal/config"
	"github.com/sells-group/ncsr-ingest/internal/fetcher"
	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/monitoring"
	"github.com/sells-group/ncsr-ingest/internal/parser"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
	"github.com/sells-group/ncsr-ingest/internal/store"
	"github.com/sells-group/ncsr-ingest/internal/tier"
)

// Discoverer lists filing descriptors for a date.
type Discoverer interface {
	FilingsFor(ctx context.Context, date time.Time, formTypes []string) ([]model.Descriptor, error)
}

// parseFunc matches parser.Parse; tests substitute it to control parse
// outcomes without building documents.
type parseFunc func(ctx context.Context, body []byte, opts parser.Options) (*parser.ParseResult, error)

// Engine wires the pipeline stages together. One Engine serves one process;
// its methods are the entry points behind the run, nightbatch, and cleanup
// commands.
type Engine struct {
	cfg    *config.Config
	store  store.Store
	fetch  fetcher.Fetcher
	source Discoverer
	router *tier.Router
	policy resilience.RetryPolicy
	parse  parseFunc
	log    *zap.Logger
}

// New builds an Engine from configuration and its collaborators.
func New(cfg *config.Config, st store.Store, f fetcher.Fetcher, src Discoverer) (*Engine, error) {
	router, err := tier.New(cfg.Tiers)
	if err != nil {
		return nil, err
	}
	policy := resilience.RetryPolicy{
		MaxAttempts:      cfg.DLQ.MaxAttempts,
		BaseBackoffHours: cfg.DLQ.RetryAfterHours,
	}
	return &Engine{
		cfg:    cfg,
		store:  st,
		fetch:  f,
		source: src,
		router: router,
		policy: policy,
		parse:  parser.Parse,
		log:    zap.L().With(zap.String("component", "engine")),
	}, nil
}

// ProcessDate ingests all new filings from the date's master index.
// maxFilings caps the batch when positive; otherwise the configured batch
// size applies. The run is recorded in the run log and the date's metrics
// aggregate is flushed on the way out.
func (e *Engine) ProcessDate(ctx context.Context, date time.Time, maxFilings int) (store.RunCounters, error) {
	runID, err := e.store.StartRun(ctx, model.RunDaily, &date)
	if err != nil {
		return store.RunCounters{}, err
	}

	tracker := monitoring.NewTracker()
	err = e.processDate(ctx, date, maxFilings, tracker)
	counters := tracker.Counters()

	status := model.RunComplete
	var errText *string
	if err != nil {
		status = model.RunFailed
		msg := err.Error()
		errText = &msg
	}
	if finErr := e.store.FinishRun(ctx, runID, status, counters, errText); finErr != nil {
		e.log.Error("failed to finalize run", zap.String("run_id", runID), zap.Error(finErr))
	}

	e.log.Info("daily run finished", append([]zap.Field{
		zap.String("run_id", runID),
		zap.String("date", date.Format("2006-01-02")),
		zap.String("status", string(status)),
	}, tracker.Fields()...)...)

	return counters, err
}

func (e *Engine) processDate(ctx context.Context, date time.Time, maxFilings int, tracker *monitoring.Tracker) error {
	descriptors, err := e.source.FilingsFor(ctx, date, e.cfg.SEC.FormTypes)
	if err != nil {
		return eris.Wrapf(err, "engine: discover %s", date.Format("2006-01-02"))
	}
	if len(descriptors) == 0 {
		e.log.Info("no filings for date", zap.String("date", date.Format("2006-01-02")))
		return nil
	}

	fresh, err := e.filterKnown(ctx, descriptors)
	if err != nil {
		return err
	}

	limit := e.cfg.Batch.Size
	if maxFilings > 0 {
		limit = maxFilings
	}
	if limit > 0 && len(fresh) > limit {
		fresh = fresh[:limit]
	}
	if len(fresh) == 0 {
		e.log.Info("all filings already ingested", zap.String("date", date.Format("2006-01-02")))
		return nil
	}

	if _, err := e.store.UpsertFilings(ctx, fresh, e.cfg.SEC.BaseURL); err != nil {
		return eris.Wrap(err, "engine: seed filings")
	}
	e.log.Info("processing filings",
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("count", len(fresh)),
		zap.Int("workers", e.cfg.Batch.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Batch.Workers)
	for _, d := range fresh {
		g.Go(func() error {
			return e.processDescriptor(gctx, d, tracker)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := e.store.FlushDailyMetrics(ctx, date); err != nil {
		return eris.Wrap(err, "engine: flush daily metrics")
	}
	return nil
}

// filterKnown drops descriptors whose accession already has a filing row.
func (e *Engine) filterKnown(ctx context.Context, descriptors []model.Descriptor) ([]model.Descriptor, error) {
	accessions := make([]string, len(descriptors))
	for i, d := range descriptors {
		accessions[i] = d.AccessionNumber
	}
	known, err := e.store.ExistingAccessions(ctx, accessions)
	if err != nil {
		return nil, eris.Wrap(err, "engine: check existing accessions")
	}

	fresh := descriptors[:0]
	for _, d := range descriptors {
		if !known[d.AccessionNumber] {
			fresh = append(fresh, d)
		}
	}
	return fresh, nil
}

// Cleanup deletes terminal filings and runs older than the retention window.
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	runID, err := e.store.StartRun(ctx, model.RunCleanup, nil)
	if err != nil {
		return 0, err
	}

	deleted, err := e.store.Cleanup(ctx, e.cfg.Retention.Days)

	status := model.RunComplete
	var errText *string
	if err != nil {
		status = model.RunFailed
		msg := err.Error()
		errText = &msg
	}
	counters := store.RunCounters{Processed: int(deleted)}
	if finErr := e.store.FinishRun(ctx, runID, status, counters, errText); finErr != nil {
		e.log.Error("failed to finalize cleanup run", zap.String("run_id", runID), zap.Error(finErr))
	}

	e.log.Info("cleanup finished",
		zap.String("run_id", runID),
		zap.Int64("deleted", deleted),
		zap.Int("retention_days", e.cfg.Retention.Days),
	)
	return deleted, err
}
