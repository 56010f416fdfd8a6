// Package report renders daily processing metrics and the dead-letter
// queue into an xlsx workbook for operations review.
package report

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

const dlqSnapshotLimit = 1000

// Generate collects metrics for the given date plus a DLQ snapshot and
// writes the workbook to path.
func Generate(ctx context.Context, st store.Store, date time.Time, path string) error {
	metrics, err := st.DailyMetrics(ctx, date)
	if err != nil {
		return eris.Wrap(err, "report: daily metrics")
	}
	entries, err := st.ListDLQ(ctx, dlqSnapshotLimit)
	if err != nil {
		return eris.Wrap(err, "report: list dlq")
	}

	f, err := Build(metrics, entries)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// Build assembles the two-sheet workbook in memory.
func Build(metrics *model.DailyMetrics, entries []resilience.DLQEntry) (*xlsx.File, error) {
	f := xlsx.NewFile()

	if err := addMetricsSheet(f, metrics); err != nil {
		return nil, err
	}
	if err := addDLQSheet(f, entries); err != nil {
		return nil, err
	}
	return f, nil
}

func addMetricsSheet(f *xlsx.File, m *model.DailyMetrics) error {
	sheet, err := f.AddSheet("Daily Metrics")
	if err != nil {
		return eris.Wrap(err, "report: add metrics sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Metric", "Value"} {
		header.AddCell().SetString(h)
	}

	addStringRow(sheet, "Date", m.Date.Format("2006-01-02"))
	addIntRow(sheet, "Standard processed", m.StandardProcessed)
	addIntRow(sheet, "Limited processed", m.LimitedProcessed)
	addIntRow(sheet, "Minimal processed", m.MinimalProcessed)
	addIntRow(sheet, "Dead lettered", m.DeadLettered)
	addIntRow(sheet, "Total processed", m.TotalProcessed)
	addFloatRow(sheet, "Total duration (s)", m.TotalDurationSeconds, "0.0")
	addIntRow(sheet, "Large files (>50 MB)", m.LargeFilesCount)
	addFloatRow(sheet, "Success rate (%)", m.SuccessRate, "0.0")
	return nil
}

func addDLQSheet(f *xlsx.File, entries []resilience.DLQEntry) error {
	sheet, err := f.AddSheet("Dead Letter Queue")
	if err != nil {
		return eris.Wrap(err, "report: add dlq sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"Accession", "Failure Type", "Failure Reason", "Original Tier",
		"Size (MB)", "Attempts", "Eligible", "Next Retry", "Suggested Tier", "Priority",
	} {
		header.AddCell().SetString(h)
	}

	for _, e := range entries {
		row := sheet.AddRow()
		row.AddCell().SetString(e.AccessionNumber)
		row.AddCell().SetString(string(e.FailureType))
		row.AddCell().SetString(e.FailureReason)
		row.AddCell().SetString(string(e.OriginalTier))
		row.AddCell().SetFloatWithFormat(e.FileSizeMB, "0.00")
		row.AddCell().SetString(attemptRatio(e))
		row.AddCell().SetBool(e.RetryEligible)
		if e.NextRetry != nil {
			row.AddCell().SetString(e.NextRetry.UTC().Format(time.RFC3339))
		} else {
			row.AddCell().SetString("")
		}
		if e.SuggestedTier != nil {
			row.AddCell().SetString(string(*e.SuggestedTier))
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetInt(e.Priority)
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, label, value string) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetString(value)
}

func addIntRow(sheet *xlsx.Sheet, label string, value int) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(value)
}

func addFloatRow(sheet *xlsx.Sheet, label string, value float64, format string) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloatWithFormat(value, format)
}

func attemptRatio(e resilience.DLQEntry) string {
	return strconv.Itoa(e.AttemptCount) + "/" + strconv.Itoa(e.MaxAttempts)
}
