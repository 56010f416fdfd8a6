package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ncsr-ingest/internal/extract"
	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/parser"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local and
// single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode and foreign keys.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	dbh, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per-connection and :memory: databases are per-connection
	// too, so the pool must stay at exactly one.
	dbh.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := dbh.Exec(pragma); err != nil {
			dbh.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: dbh}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertFilings(ctx context.Context, descriptors []model.Descriptor, baseURL string) (int64, error) {
	if len(descriptors) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert filings")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO filings (accession_number, cik, company_name, form_type, filing_date, source_url)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (accession_number) DO UPDATE SET
			cik = excluded.cik, company_name = excluded.company_name,
			form_type = excluded.form_type, source_url = excluded.source_url`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert filings")
	}
	defer stmt.Close()

	var n int64
	for _, d := range descriptors {
		if _, err := stmt.ExecContext(ctx,
			d.AccessionNumber, d.CIK, d.CompanyName, d.FormType, d.FilingDate, d.DocumentURL(baseURL)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert filing %s", d.AccessionNumber)
		}
		n++
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit upsert filings")
}

func (s *SQLiteStore) GetByAccession(ctx context.Context, accession string) (*model.Filing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+filingColumns+` FROM filings WHERE accession_number = ?`, accession)
	f, err := scanFilingSQL(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get filing %s", accession)
	}
	return f, nil
}

func (s *SQLiteStore) GetFiling(ctx context.Context, filingID int64) (*model.Filing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+filingColumns+` FROM filings WHERE id = ?`, filingID)
	f, err := scanFilingSQL(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get filing %d", filingID)
	}
	return f, nil
}

func (s *SQLiteStore) ExistingAccessions(ctx context.Context, accessions []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(accessions) == 0 {
		return existing, nil
	}

	stmt, err := s.db.PrepareContext(ctx,
		`SELECT 1 FROM filings WHERE accession_number = ? AND processing_status IN ('completed', 'failed', 'dead_letter')`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare existing accessions")
	}
	defer stmt.Close()

	for _, acc := range accessions {
		var one int
		err := stmt.QueryRowContext(ctx, acc).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing accessions")
		}
		existing[acc] = true
	}
	return existing, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, filingID int64, status model.ProcessingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE filings SET processing_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), filingID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set status for filing %d", filingID)
	}
	return checkRowsAffected(res, "filing", filingID)
}

func (s *SQLiteStore) SetFileSize(ctx context.Context, filingID int64, sizeMB float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE filings SET file_size_mb = ?, updated_at = ? WHERE id = ?`,
		sizeMB, time.Now().UTC(), filingID)
	return eris.Wrapf(err, "sqlite: set file size for filing %d", filingID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, filingID int64, tier model.Tier, parse *parser.ParseResult, content *extract.Result, duration time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback()

	status := model.StatusFailed
	if parse.Success {
		status = model.StatusCompleted
	}
	md := content.Metadata
	if md == nil {
		md = &parser.Metadata{}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE filings SET
			processing_status = ?, processing_tier = ?, parsing_strategy = NULLIF(?, ''),
			sgml_parsed = ?, xbrl_parsed = ?, sgml_parse_ms = ?, xbrl_parse_ms = ?,
			xbrl_facts_count = ?,
			period_of_report = COALESCE(period_of_report, ?),
			acceptance_datetime = COALESCE(acceptance_datetime, ?),
			sic = COALESCE(sic, NULLIF(?, '')),
			state_of_incorporation = COALESCE(state_of_incorporation, NULLIF(?, '')),
			fiscal_year_end = COALESCE(fiscal_year_end, NULLIF(?, '')),
			business_address = COALESCE(business_address, NULLIF(?, '')),
			business_phone = COALESCE(business_phone, NULLIF(?, '')),
			updated_at = ?
		 WHERE id = ?`,
		string(status), string(tier), string(parse.Strategy),
		parse.SGMLParsed, parse.XBRLParsed,
		parse.SGMLTime.Milliseconds(), parse.XBRLTime.Milliseconds(),
		len(content.Facts),
		md.PeriodOfReport, md.AcceptanceDatetime, md.SIC, md.StateOfIncorporation,
		md.FiscalYearEnd, md.BusinessAddress, md.BusinessPhone,
		time.Now().UTC(), filingID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update filing %d", filingID)
	}
	if err := checkRowsAffected(res, "filing", filingID); err != nil {
		return err
	}

	// Extracted content persists only for successful parses. A failed parse
	// records the filing update and the summary row, nothing else.
	if parse.Success {
		for _, table := range []string{"ncsr_sections", "ncsr_tables", "xbrl_facts"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE filing_id = ?`, filingID); err != nil {
				return eris.Wrapf(err, "sqlite: clear %s", table)
			}
		}

		if content.Fund != nil {
			rawJSON, err := json.Marshal(content.Fund.Raw)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal fund raw")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fund_metadata (filing_id, fund_name, total_net_assets, shares_outstanding, nav_per_share, expense_ratio, portfolio_date, raw)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (filing_id) DO UPDATE SET
					fund_name = excluded.fund_name, total_net_assets = excluded.total_net_assets,
					shares_outstanding = excluded.shares_outstanding, nav_per_share = excluded.nav_per_share,
					expense_ratio = excluded.expense_ratio, portfolio_date = excluded.portfolio_date,
					raw = excluded.raw`,
				filingID, content.Fund.FundName, content.Fund.TotalNetAssets,
				content.Fund.SharesOutstanding, content.Fund.NavPerShare,
				content.Fund.ExpenseRatio, content.Fund.PortfolioDate, string(rawJSON)); err != nil {
				return eris.Wrap(err, "sqlite: upsert fund metadata")
			}
		}

		for _, sec := range content.Sections {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ncsr_sections (filing_id, name, section_type, text_clean, word_count)
				 VALUES (?, ?, ?, ?, ?)`,
				filingID, sec.Name, string(sec.Type), sec.TextClean, sec.WordCount); err != nil {
				return eris.Wrap(err, "sqlite: insert section")
			}
		}

		for _, table := range content.Tables {
			tres, err := tx.ExecContext(ctx,
				`INSERT INTO ncsr_tables (filing_id, table_type, caption, html, row_count, col_count)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				filingID, table.TableType, table.Caption, table.HTML, table.RowCount, table.ColCount)
			if err != nil {
				return eris.Wrap(err, "sqlite: insert table")
			}
			tableID, err := tres.LastInsertId()
			if err != nil {
				return eris.Wrap(err, "sqlite: table id")
			}
			for _, r := range table.Rows {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO ncsr_table_rows (table_id, row_index, col_name, col_value, col_type)
					 VALUES (?, ?, ?, ?, ?)`,
					tableID, r.RowIndex, r.ColName, r.ColValue, string(r.ColType)); err != nil {
					return eris.Wrap(err, "sqlite: insert table row")
				}
			}
		}

		if len(content.Facts) > 0 {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO xbrl_facts (filing_id, concept, value, unit_ref, context_ref,
					period_start, period_end, period_instant, entity_identifier, decimals, scale, precision, attrs)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return eris.Wrap(err, "sqlite: prepare facts")
			}
			defer stmt.Close()
			for _, f := range content.Facts {
				var attrsJSON *string
				if len(f.Attrs) > 0 {
					b, err := json.Marshal(f.Attrs)
					if err != nil {
						return eris.Wrap(err, "sqlite: marshal fact attrs")
					}
					v := string(b)
					attrsJSON = &v
				}
				if _, err := stmt.ExecContext(ctx,
					filingID, f.Concept, f.Value, nullable(f.UnitRef), nullable(f.ContextRef),
					f.PeriodStart, f.PeriodEnd, f.PeriodInstant, nullable(f.EntityIdentifier),
					nullable(f.Decimals), f.Scale, nullable(f.Precision), attrsJSON); err != nil {
					return eris.Wrap(err, "sqlite: insert fact")
				}
			}
		}
	}

	// One summary row per filing; a rerun replaces the previous outcome.
	errMsg, errType := resultError(parse)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processing_results (filing_id, tier, success, error_message, error_type, table_count, section_count, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (filing_id) DO UPDATE SET
			tier = excluded.tier, success = excluded.success,
			error_message = excluded.error_message, error_type = excluded.error_type,
			table_count = excluded.table_count, section_count = excluded.section_count,
			duration_seconds = excluded.duration_seconds, created_at = datetime('now')`,
		filingID, string(tier), parse.Success, errMsg, errType,
		len(content.Tables), len(content.Sections), duration.Seconds()); err != nil {
		return eris.Wrap(err, "sqlite: upsert processing result")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func (s *SQLiteStore) AddToDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin dlq add")
	}
	defer tx.Rollback()

	var suggested *string
	if entry.SuggestedTier != nil {
		v := string(*entry.SuggestedTier)
		suggested = &v
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
			(filing_id, accession_number, failure_reason, failure_type, original_tier,
			 file_size_mb, attempt_count, max_attempts, retry_eligible, last_attempt,
			 next_retry, retry_after_hours, suggested_tier, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (filing_id) DO UPDATE SET
			failure_reason = excluded.failure_reason, failure_type = excluded.failure_type,
			file_size_mb = excluded.file_size_mb, attempt_count = excluded.attempt_count,
			retry_eligible = excluded.retry_eligible, last_attempt = excluded.last_attempt,
			next_retry = excluded.next_retry, retry_after_hours = excluded.retry_after_hours,
			suggested_tier = excluded.suggested_tier, priority = excluded.priority,
			updated_at = excluded.updated_at`,
		entry.FilingID, entry.AccessionNumber, entry.FailureReason, string(entry.FailureType),
		nullable(string(entry.OriginalTier)), entry.FileSizeMB, entry.AttemptCount,
		entry.MaxAttempts, entry.RetryEligible, entry.LastAttempt, entry.NextRetry,
		entry.RetryAfterHours, suggested, entry.Priority, entry.CreatedAt, entry.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: upsert dlq entry")
	}

	status := model.StatusDeadLetter
	if entry.RetryEligible {
		status = model.StatusFailed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE filings SET processing_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), entry.FilingID); err != nil {
		return eris.Wrapf(err, "sqlite: dead-letter filing %d", entry.FilingID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit dlq add")
}

func (s *SQLiteStore) NightBatch(ctx context.Context, limit int, maxSizeMB float64, now time.Time) ([]resilience.DLQEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_queue
		 WHERE retry_eligible AND next_retry IS NOT NULL AND next_retry <= ?
		   AND attempt_count < max_attempts
		   AND (? <= 0 OR file_size_mb <= ?)
		 ORDER BY priority DESC, file_size_mb ASC, attempt_count ASC, created_at ASC
		 LIMIT ?`,
		now, maxSizeMB, maxSizeMB, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: night batch")
	}
	defer rows.Close()
	return collectDLQSQL(rows)
}

func (s *SQLiteStore) MarkDLQProcessed(ctx context.Context, filingID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE filing_id = ?`, filingID)
	return eris.Wrapf(err, "sqlite: mark dlq processed %d", filingID)
}

func (s *SQLiteStore) DLQDepth(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: dlq depth")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_queue
		 ORDER BY priority DESC, created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()
	return collectDLQSQL(rows)
}

func (s *SQLiteStore) DailyMetrics(ctx context.Context, date time.Time) (*model.DailyMetrics, error) {
	m := &model.DailyMetrics{Date: date}
	day := date.Format("2006-01-02")
	err := s.db.QueryRowContext(ctx,
		`SELECT
			SUM(CASE WHEN processing_tier = 'standard' AND processing_status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN processing_tier = 'limited' AND processing_status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN processing_tier = 'minimal' AND processing_status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN processing_status = 'dead_letter' THEN 1 ELSE 0 END),
			SUM(CASE WHEN processing_status IN ('completed', 'failed', 'dead_letter') THEN 1 ELSE 0 END),
			COALESCE((SELECT SUM(pr.duration_seconds) FROM processing_results pr
			          JOIN filings f2 ON f2.id = pr.filing_id WHERE date(f2.filing_date) = ?), 0),
			SUM(CASE WHEN file_size_mb > 50 THEN 1 ELSE 0 END)
		 FROM filings WHERE date(filing_date) = ?`,
		day, day,
	).Scan(newNullInt(&m.StandardProcessed), newNullInt(&m.LimitedProcessed),
		newNullInt(&m.MinimalProcessed), newNullInt(&m.DeadLettered),
		newNullInt(&m.TotalProcessed), &m.TotalDurationSeconds, newNullInt(&m.LargeFilesCount))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: daily metrics")
	}
	m.SuccessRate = successRate(m)
	return m, nil
}

func (s *SQLiteStore) FlushDailyMetrics(ctx context.Context, date time.Time) error {
	m, err := s.DailyMetrics(ctx, date)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processing_metrics_daily
			(date, standard_processed, limited_processed, minimal_processed, dead_lettered,
			 total_processed, total_duration_seconds, large_files_count, success_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date) DO UPDATE SET
			standard_processed = excluded.standard_processed,
			limited_processed = excluded.limited_processed,
			minimal_processed = excluded.minimal_processed,
			dead_lettered = excluded.dead_lettered,
			total_processed = excluded.total_processed,
			total_duration_seconds = excluded.total_duration_seconds,
			large_files_count = excluded.large_files_count,
			success_rate = excluded.success_rate`,
		date.Format("2006-01-02"), m.StandardProcessed, m.LimitedProcessed, m.MinimalProcessed,
		m.DeadLettered, m.TotalProcessed, m.TotalDurationSeconds, m.LargeFilesCount, m.SuccessRate)
	return eris.Wrap(err, "sqlite: flush daily metrics")
}

func (s *SQLiteStore) StartRun(ctx context.Context, kind model.RunKind, targetDate *time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, kind, target_date, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, string(kind), targetDate, string(model.RunRunning), time.Now().UTC())
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, counters RunCounters, errText *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, completed_at = ?,
			processed = ?, succeeded = ?, failed = ?, dead_lettered = ?, error = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(),
		counters.Processed, counters.Succeeded, counters.Failed, counters.DeadLettered,
		errText, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, target_date, status, started_at, completed_at,
		        processed, succeeded, failed, dead_lettered, error
		 FROM ingestion_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		var r model.IngestionRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.TargetDate, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.Processed, &r.Succeeded, &r.Failed, &r.DeadLettered, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM filings
		 WHERE updated_at < ? AND processing_status IN ('completed', 'failed')`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: cleanup filings")
	}
	removed, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM filings
		 WHERE updated_at < ? AND processing_status = 'dead_letter'
		   AND id IN (SELECT filing_id FROM dead_letter_queue WHERE NOT retry_eligible)`, cutoff)
	if err != nil {
		return removed, eris.Wrap(err, "sqlite: cleanup dead-lettered filings")
	}
	n, _ := res.RowsAffected()
	removed += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM dead_letter_queue WHERE updated_at < ? AND NOT retry_eligible`, cutoff)
	if err != nil {
		return removed, eris.Wrap(err, "sqlite: cleanup dlq")
	}
	n, _ = res.RowsAffected()
	removed += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM ingestion_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return removed, eris.Wrap(err, "sqlite: cleanup runs")
	}
	n, _ = res.RowsAffected()
	return removed + n, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFilingSQL(row scannable) (*model.Filing, error) {
	var f model.Filing
	var tier, strategy sql.NullString
	err := row.Scan(&f.ID, &f.AccessionNumber, &f.CIK, &f.CompanyName, &f.FormType,
		&f.FilingDate, &f.PeriodOfReport, &f.AcceptanceDatetime, &f.SIC,
		&f.StateOfIncorporation, &f.FiscalYearEnd, &f.BusinessAddress, &f.BusinessPhone,
		&f.FileSizeMB, &f.SourceURL, &f.ProcessingStatus, &tier, &strategy,
		&f.SGMLParsed, &f.XBRLParsed, &f.SGMLParseMS, &f.XBRLParseMS, &f.XBRLFactsCount,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tier.Valid {
		t := model.Tier(tier.String)
		f.ProcessingTier = &t
	}
	if strategy.Valid {
		st := model.ParsingStrategy(strategy.String)
		f.ParsingStrategy = &st
	}
	return &f, nil
}

func collectDLQSQL(rows *sql.Rows) ([]resilience.DLQEntry, error) {
	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var originalTier, suggestedTier sql.NullString
		var nextRetry sql.NullTime
		if err := rows.Scan(&e.ID, &e.FilingID, &e.AccessionNumber, &e.FailureReason,
			&e.FailureType, &originalTier, &e.FileSizeMB, &e.AttemptCount, &e.MaxAttempts,
			&e.RetryEligible, &e.LastAttempt, &nextRetry, &e.RetryAfterHours,
			&suggestedTier, &e.Priority, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if originalTier.Valid {
			e.OriginalTier = model.Tier(originalTier.String)
		}
		if suggestedTier.Valid {
			t := model.Tier(suggestedTier.String)
			e.SuggestedTier = &t
		}
		if nextRetry.Valid {
			t := nextRetry.Time
			e.NextRetry = &t
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dlq iterate")
}

func newNullInt(dst *int) *nullInt { return &nullInt{dst: dst} }

// nullInt scans SUM() results, which are NULL on empty sets.
type nullInt struct{ dst *int }

func (n *nullInt) Scan(src any) error {
	if src == nil {
		*n.dst = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dst = int(v)
	case float64:
		*n.dst = int(v)
	default:
		return eris.Errorf("unsupported sum type %T", src)
	}
	return nil
}
