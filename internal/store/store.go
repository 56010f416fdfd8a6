// Package store persists filings, their extracted content, the dead-letter
// queue, and run metrics behind one interface with PostgreSQL and SQLite
// backends.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/ncsr-ingest/internal/extract"
	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/parser"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
)

// RunCounters carries the per-run totals recorded when a run finishes.
type RunCounters struct {
	Processed    int
	Succeeded    int
	Failed       int
	DeadLettered int
}

// Store is the persistence surface for the ingestion engine.
type Store interface {
	// Filings
	UpsertFilings(ctx context.Context, descriptors []model.Descriptor, baseURL string) (int64, error)
	GetByAccession(ctx context.Context, accession string) (*model.Filing, error)
	GetFiling(ctx context.Context, filingID int64) (*model.Filing, error)
	ExistingAccessions(ctx context.Context, accessions []string) (map[string]bool, error)
	SetStatus(ctx context.Context, filingID int64, status model.ProcessingStatus) error
	SetFileSize(ctx context.Context, filingID int64, sizeMB float64) error
	SaveResult(ctx context.Context, filingID int64, tier model.Tier, parse *parser.ParseResult, content *extract.Result, duration time.Duration) error

	// Dead-letter queue. AddToDLQ is the only path that moves a filing to
	// dead_letter status, and it does so only for entries with no retries
	// left; retry-eligible entries leave the filing at failed.
	AddToDLQ(ctx context.Context, entry resilience.DLQEntry) error
	NightBatch(ctx context.Context, limit int, maxSizeMB float64, now time.Time) ([]resilience.DLQEntry, error)
	MarkDLQProcessed(ctx context.Context, filingID int64) error
	DLQDepth(ctx context.Context) (int, error)
	ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error)

	// Metrics and run log
	DailyMetrics(ctx context.Context, date time.Time) (*model.DailyMetrics, error)
	FlushDailyMetrics(ctx context.Context, date time.Time) error
	StartRun(ctx context.Context, kind model.RunKind, targetDate *time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, counters RunCounters, errText *string) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestionRun, error)

	// Lifecycle
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Open selects a backend by URL shape: postgres:// connection strings get
// the pooled pgx store, anything else is treated as a SQLite path
// (optionally prefixed sqlite://).
func Open(ctx context.Context, databaseURL string, poolCfg *PoolConfig) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgres(ctx, databaseURL, poolCfg)
	default:
		return NewSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	}
}
