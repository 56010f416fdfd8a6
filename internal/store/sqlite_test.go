package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ncsr-ingest/internal/extract"
	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/parser"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFiling(t *testing.T, s *SQLiteStore, accession string) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := s.UpsertFilings(ctx, []model.Descriptor{{
		AccessionNumber: accession,
		CIK:             "1084380",
		CompanyName:     "TIAA-CREF FUNDS",
		FormType:        "N-CSR",
		FilingDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}}, "https://www.sec.gov")
	require.NoError(t, err)

	f, err := s.GetByAccession(ctx, accession)
	require.NoError(t, err)
	require.NotNil(t, f)
	return f.ID
}

func TestSQLiteMigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()), "second run is a no-op")
}

func TestSQLiteUpsertFilings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id := seedFiling(t, s, "0001-24-000001")

	f, err := s.GetByAccession(ctx, "0001-24-000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, f.ProcessingStatus)
	assert.Contains(t, f.SourceURL, "/Archives/edgar/data/1084380/")

	// Re-discovery refreshes display fields without resetting status.
	require.NoError(t, s.SetStatus(ctx, id, model.StatusCompleted))
	_, err = s.UpsertFilings(ctx, []model.Descriptor{{
		AccessionNumber: "0001-24-000001",
		CIK:             "1084380",
		CompanyName:     "TIAA-CREF FUNDS (RENAMED)",
		FormType:        "N-CSR",
		FilingDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}}, "https://www.sec.gov")
	require.NoError(t, err)

	f, err = s.GetByAccession(ctx, "0001-24-000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, f.ProcessingStatus)
	assert.Equal(t, "TIAA-CREF FUNDS (RENAMED)", f.CompanyName)
}

func TestSQLiteGetByAccessionMissing(t *testing.T) {
	s := newTestSQLite(t)
	f, err := s.GetByAccession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSQLiteSaveResult(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedFiling(t, s, "0001-24-000002")

	period := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	name := "ACME Growth Fund"
	nav := 12.34
	value := "1,000"

	parse := &parser.ParseResult{
		Success:    true,
		Strategy:   model.StrategyHybrid,
		SGMLParsed: true,
		XBRLParsed: true,
		SGMLTime:   40 * time.Millisecond,
		XBRLTime:   60 * time.Millisecond,
	}
	content := &extract.Result{
		Metadata: &parser.Metadata{PeriodOfReport: &period, SIC: "[0000]"},
		Fund:     &model.FundMetadata{FundName: &name, NavPerShare: &nav, Raw: map[string]any{"nav_per_share": "12.34"}},
		Sections: []model.Section{
			{Name: "Fund Performance", Type: model.SectionPerformance, TextClean: "up and to the right", WordCount: 5},
		},
		Tables: []model.Table{{
			TableType: "portfolio_holdings", Caption: "Schedule of Investments",
			HTML: "<table></table>", RowCount: 2, ColCount: 2,
			Rows: []model.TableRow{
				{RowIndex: 0, ColName: "Shares", ColValue: &value, ColType: model.ColNumber},
			},
		}},
		Facts: []model.XbrlFact{
			{Concept: "us-gaap:Assets", Value: "1234500000", UnitRef: "usd", Scale: 6, Decimals: "-6",
				Attrs: map[string]string{"name": "us-gaap:Assets"}},
		},
	}

	require.NoError(t, s.SaveResult(ctx, id, model.TierStandard, parse, content, 2500*time.Millisecond))

	f, err := s.GetByAccession(ctx, "0001-24-000002")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, f.ProcessingStatus)
	require.NotNil(t, f.ProcessingTier)
	assert.Equal(t, model.TierStandard, *f.ProcessingTier)
	require.NotNil(t, f.ParsingStrategy)
	assert.Equal(t, model.StrategyHybrid, *f.ParsingStrategy)
	assert.True(t, f.SGMLParsed)
	assert.Equal(t, int64(40), f.SGMLParseMS)
	assert.Equal(t, 1, f.XBRLFactsCount)
	require.NotNil(t, f.SIC)
	assert.Equal(t, "[0000]", *f.SIC)

	var sections, tables, tableRows, facts, results int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM ncsr_sections WHERE filing_id = ?", id).Scan(&sections))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM ncsr_tables WHERE filing_id = ?", id).Scan(&tables))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM ncsr_table_rows").Scan(&tableRows))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM xbrl_facts WHERE filing_id = ?", id).Scan(&facts))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM processing_results WHERE filing_id = ?", id).Scan(&results))
	assert.Equal(t, 1, sections)
	assert.Equal(t, 1, tables)
	assert.Equal(t, 1, tableRows)
	assert.Equal(t, 1, facts)
	assert.Equal(t, 1, results)
}

func TestSQLiteSaveResultFailure(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedFiling(t, s, "0001-24-000003")

	parse := &parser.ParseResult{Success: false, Error: "incompatible_content"}
	content := &extract.Result{Metadata: &parser.Metadata{}}

	require.NoError(t, s.SaveResult(ctx, id, model.TierMinimal, parse, content, time.Second))

	f, err := s.GetByAccession(ctx, "0001-24-000003")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, f.ProcessingStatus)

	var errMsg string
	require.NoError(t, s.db.QueryRow(
		"SELECT error_message FROM processing_results WHERE filing_id = ?", id).Scan(&errMsg))
	assert.Equal(t, "incompatible_content", errMsg)
}

func TestSQLiteSaveResultFailureSkipsContent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedFiling(t, s, "0001-24-000005")

	// Extraction over a failed parse can still surface matches (boilerplate
	// text mentioning expense ratios, stray tables); none of it persists.
	name := "Not A Real Fund"
	ratio := 1.23
	parse := &parser.ParseResult{Success: false, Error: "incompatible_content"}
	content := &extract.Result{
		Metadata: &parser.Metadata{},
		Fund:     &model.FundMetadata{FundName: &name, ExpenseRatio: &ratio},
		Sections: []model.Section{{Name: "x", Type: model.SectionOther, TextClean: "Expense Ratio: 1.23%", WordCount: 3}},
	}

	require.NoError(t, s.SaveResult(ctx, id, model.TierStandard, parse, content, time.Second))

	var funds, sections int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM fund_metadata WHERE filing_id = ?", id).Scan(&funds))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM ncsr_sections WHERE filing_id = ?", id).Scan(&sections))
	assert.Equal(t, 0, funds)
	assert.Equal(t, 0, sections)
}

func TestSQLiteSaveResultRerunKeepsOneSummary(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedFiling(t, s, "0001-24-000006")

	failed := &parser.ParseResult{Success: false, Error: "incompatible_content"}
	empty := &extract.Result{Metadata: &parser.Metadata{}}
	require.NoError(t, s.SaveResult(ctx, id, model.TierStandard, failed, empty, time.Second))

	ok := &parser.ParseResult{Success: true, Strategy: model.StrategySGMLOnly, SGMLParsed: true}
	content := &extract.Result{
		Metadata: &parser.Metadata{},
		Sections: []model.Section{{Name: "x", Type: model.SectionOther, TextClean: "y", WordCount: 1}},
	}
	require.NoError(t, s.SaveResult(ctx, id, model.TierLimited, ok, content, 2*time.Second))

	var results, sections int
	var success bool
	var tier string
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM processing_results WHERE filing_id = ?", id).Scan(&results))
	require.NoError(t, s.db.QueryRow(
		"SELECT success, tier FROM processing_results WHERE filing_id = ?", id).Scan(&success, &tier))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM ncsr_sections WHERE filing_id = ?", id).Scan(&sections))
	assert.Equal(t, 1, results, "one summary row per filing")
	assert.True(t, success, "summary reflects the most recent run")
	assert.Equal(t, "limited", tier)
	assert.Equal(t, 1, sections)
}

func TestSQLiteDLQLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedFiling(t, s, "0001-24-000004")

	now := time.Now().UTC()
	policy := resilience.DefaultRetryPolicy()
	entry := policy.NewEntry(id, "0001-24-000004", "connection reset",
		model.FailureNetwork, model.TierStandard, 8.0, now.Add(-48*time.Hour))

	require.NoError(t, s.AddToDLQ(ctx, entry))

	// A retry-eligible entry leaves the filing at failed; dead_letter is
	// reserved for entries with no retries left.
	f, err := s.GetByAccession(ctx, "0001-24-000004")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, f.ProcessingStatus)

	depth, err := s.DLQDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// Backoff from 48h ago puts next_retry in the past, so the batch sees it.
	batch, err := s.NightBatch(ctx, 10, 0, now)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, id, batch[0].FilingID)

	require.NoError(t, s.MarkDLQProcessed(ctx, id))
	depth, err = s.DLQDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSQLiteNightBatchOrdering(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-72 * time.Hour)
	policy := resilience.DefaultRetryPolicy()

	// Same failure type; sizes drive priority: 2 MB -> 4, 40 MB -> 2.
	small := seedFiling(t, s, "0001-24-000010")
	large := seedFiling(t, s, "0001-24-000011")
	require.NoError(t, s.AddToDLQ(ctx, policy.NewEntry(large, "0001-24-000011", "timeout", model.FailureNetwork, model.TierLimited, 40.0, past)))
	require.NoError(t, s.AddToDLQ(ctx, policy.NewEntry(small, "0001-24-000010", "timeout", model.FailureNetwork, model.TierStandard, 2.0, past)))

	batch, err := s.NightBatch(ctx, 10, 0, now)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, small, batch[0].FilingID, "higher priority first")
	assert.Equal(t, large, batch[1].FilingID)
}

func TestSQLiteNightBatchSizeCap(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-72 * time.Hour)
	policy := resilience.DefaultRetryPolicy()

	small := seedFiling(t, s, "0001-24-000013")
	big := seedFiling(t, s, "0001-24-000014")
	require.NoError(t, s.AddToDLQ(ctx, policy.NewEntry(small, "0001-24-000013", "timeout", model.FailureNetwork, model.TierStandard, 2.0, past)))
	require.NoError(t, s.AddToDLQ(ctx, policy.NewEntry(big, "0001-24-000014", "timeout", model.FailureNetwork, model.TierMinimal, 60.0, past)))

	batch, err := s.NightBatch(ctx, 10, 50, now)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, small, batch[0].FilingID, "entries over the cap stay queued")

	// A non-positive cap disables the filter.
	batch, err = s.NightBatch(ctx, 10, 0, now)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestSQLiteNightBatchSkipsIneligible(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	policy := resilience.DefaultRetryPolicy()

	id := seedFiling(t, s, "0001-24-000012")
	// file_too_large is never retry eligible.
	entry := policy.NewEntry(id, "0001-24-000012", "exceeds cap",
		model.FailureFileTooLarge, model.TierDeadLetter, 150.0, now.Add(-200*time.Hour))
	require.NoError(t, s.AddToDLQ(ctx, entry))

	// No retries left, so the filing lands at dead_letter.
	f, err := s.GetByAccession(ctx, "0001-24-000012")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeadLetter, f.ProcessingStatus)

	batch, err := s.NightBatch(ctx, 10, 0, now)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Still visible in listings.
	all, err := s.ListDLQ(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteDailyMetricsAndFlush(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	id1 := seedFiling(t, s, "0001-24-000020")
	id2 := seedFiling(t, s, "0001-24-000021")

	okParse := &parser.ParseResult{Success: true, Strategy: model.StrategySGMLOnly, SGMLParsed: true}
	empty := &extract.Result{Metadata: &parser.Metadata{}}
	require.NoError(t, s.SaveResult(ctx, id1, model.TierStandard, okParse, empty, 2*time.Second))
	require.NoError(t, s.SaveResult(ctx, id2, model.TierMinimal, okParse, empty, 3*time.Second))

	m, err := s.DailyMetrics(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, m.StandardProcessed)
	assert.Equal(t, 1, m.MinimalProcessed)
	assert.Equal(t, 2, m.TotalProcessed)
	assert.InDelta(t, 5.0, m.TotalDurationSeconds, 0.001)
	assert.InDelta(t, 100.0, m.SuccessRate, 0.001)

	require.NoError(t, s.FlushDailyMetrics(ctx, date))
	require.NoError(t, s.FlushDailyMetrics(ctx, date), "flush is idempotent")

	var persisted int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM processing_metrics_daily").Scan(&persisted))
	assert.Equal(t, 1, persisted)
}

func TestSQLiteRunLog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	id, err := s.StartRun(ctx, model.RunDaily, &date)
	require.NoError(t, err)

	require.NoError(t, s.FinishRun(ctx, id, model.RunComplete,
		RunCounters{Processed: 5, Succeeded: 4, Failed: 1}, nil))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunComplete, runs[0].Status)
	assert.Equal(t, 5, runs[0].Processed)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestSQLiteCleanupCascades(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := seedFiling(t, s, "0001-24-000030")

	okParse := &parser.ParseResult{Success: true, Strategy: model.StrategySGMLOnly, SGMLParsed: true}
	content := &extract.Result{
		Metadata: &parser.Metadata{},
		Sections: []model.Section{{Name: "x", Type: model.SectionOther, TextClean: "y", WordCount: 1}},
	}
	require.NoError(t, s.SaveResult(ctx, id, model.TierStandard, okParse, content, time.Second))

	// Age the row past retention.
	_, err := s.db.Exec("UPDATE filings SET updated_at = ? WHERE id = ?",
		time.Now().UTC().AddDate(0, 0, -120), id)
	require.NoError(t, err)

	n, err := s.Cleanup(ctx, 90)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	f, err := s.GetByAccession(ctx, "0001-24-000030")
	require.NoError(t, err)
	assert.Nil(t, f)

	var orphans int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM ncsr_sections").Scan(&orphans))
	assert.Equal(t, 0, orphans, "children cascade")
}

func TestSQLiteCleanupSweepsExhaustedQueue(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -120)
	policy := resilience.DefaultRetryPolicy()

	// An old entry that will never retry, and a fresh one still in play.
	exhausted := seedFiling(t, s, "0001-24-000031")
	require.NoError(t, s.AddToDLQ(ctx, policy.NewEntry(exhausted, "0001-24-000031", "exceeds cap",
		model.FailureFileTooLarge, model.TierDeadLetter, 150.0, old)))
	active := seedFiling(t, s, "0001-24-000032")
	require.NoError(t, s.AddToDLQ(ctx, policy.NewEntry(active, "0001-24-000032", "connection reset",
		model.FailureNetwork, model.TierStandard, 4.0, time.Now().UTC())))

	_, err := s.db.Exec("UPDATE filings SET updated_at = ? WHERE id = ?", old, exhausted)
	require.NoError(t, err)

	// The filing delete cascades its queue entry.
	n, err := s.Cleanup(ctx, 90)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	f, err := s.GetByAccession(ctx, "0001-24-000031")
	require.NoError(t, err)
	assert.Nil(t, f)

	depth, err := s.DLQDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "the retryable entry survives")
}
