package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ncsr-ingest/internal/db"
	"github.com/sells-group/ncsr-ingest/internal/extract"
	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/parser"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool     db.Pool
	beginner db.Beginner
	closeFn  func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest per-filing operations.
var preparedStatements = map[string]string{
	"set_status":    `UPDATE filings SET processing_status = $1, updated_at = $2 WHERE id = $3`,
	"set_file_size": `UPDATE filings SET file_size_mb = $1, updated_at = $2 WHERE id = $3`,
	"get_by_accession": `SELECT ` + filingColumns + ` FROM filings WHERE accession_number = $1`,
	"dlq_delete":       `DELETE FROM dead_letter_queue WHERE filing_id = $1`,
}

const filingColumns = `id, accession_number, cik, company_name, form_type, filing_date,
	period_of_report, acceptance_datetime, sic, state_of_incorporation, fiscal_year_end,
	business_address, business_phone, file_size_mb, source_url, processing_status,
	processing_tier, parsing_strategy, sgml_parsed, xbrl_parsed, sgml_parse_ms,
	xbrl_parse_ms, xbrl_facts_count, created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, beginner: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wires an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool, beginner db.Beginner) *PostgresStore {
	return &PostgresStore{pool: pool, beginner: beginner}
}

// Pool exposes the underlying pool for subsystems needing direct access.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// UpsertFilings bulk-seeds discovered descriptors. Existing rows refresh
// their display fields without touching processing state.
func (s *PostgresStore) UpsertFilings(ctx context.Context, descriptors []model.Descriptor, baseURL string) (int64, error) {
	if len(descriptors) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(descriptors))
	for _, d := range descriptors {
		rows = append(rows, []any{
			d.AccessionNumber, d.CIK, d.CompanyName, d.FormType, d.FilingDate, d.DocumentURL(baseURL),
		})
	}

	n, err := db.BulkUpsert(ctx, s.beginner, db.UpsertConfig{
		Table:        "filings",
		Columns:      []string{"accession_number", "cik", "company_name", "form_type", "filing_date", "source_url"},
		ConflictKeys: []string{"accession_number"},
		UpdateCols:   []string{"cik", "company_name", "form_type", "source_url"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert filings")
	}
	return n, nil
}

func (s *PostgresStore) GetByAccession(ctx context.Context, accession string) (*model.Filing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+filingColumns+` FROM filings WHERE accession_number = $1`, accession)
	f, err := scanFiling(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get filing %s", accession)
	}
	return f, nil
}

func (s *PostgresStore) GetFiling(ctx context.Context, filingID int64) (*model.Filing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+filingColumns+` FROM filings WHERE id = $1`, filingID)
	f, err := scanFiling(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get filing %d", filingID)
	}
	return f, nil
}

func (s *PostgresStore) ExistingAccessions(ctx context.Context, accessions []string) (map[string]bool, error) {
	if len(accessions) == 0 {
		return map[string]bool{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT accession_number FROM filings
		 WHERE accession_number = ANY($1) AND processing_status IN ('completed', 'failed', 'dead_letter')`,
		accessions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing accessions")
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var acc string
		if err := rows.Scan(&acc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan accession")
		}
		existing[acc] = true
	}
	return existing, eris.Wrap(rows.Err(), "postgres: existing accessions iterate")
}

func (s *PostgresStore) SetStatus(ctx context.Context, filingID int64, status model.ProcessingStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE filings SET processing_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), filingID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set status for filing %d", filingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("filing not found: %d", filingID)
	}
	return nil
}

func (s *PostgresStore) SetFileSize(ctx context.Context, filingID int64, sizeMB float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE filings SET file_size_mb = $1, updated_at = $2 WHERE id = $3`,
		sizeMB, time.Now().UTC(), filingID)
	return eris.Wrapf(err, "postgres: set file size for filing %d", filingID)
}

// SaveResult writes everything a processed filing produced inside one
// transaction: the filing update, fund metadata, sections, tables with
// their long-form rows, XBRL facts, and the processing summary. Child rows
// load through the COPY protocol.
func (s *PostgresStore) SaveResult(ctx context.Context, filingID int64, tier model.Tier, parse *parser.ParseResult, content *extract.Result, duration time.Duration) error {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx)

	if err := updateFiling(ctx, tx, filingID, tier, parse, content); err != nil {
		return err
	}

	// Extracted content persists only for successful parses. A failed parse
	// records the filing update and the summary row, nothing else.
	if parse.Success {
		if err := clearContent(ctx, tx, filingID); err != nil {
			return err
		}
		if content.Fund != nil {
			if err := upsertFund(ctx, tx, filingID, content.Fund); err != nil {
				return err
			}
		}
		for _, sec := range content.Sections {
			if _, err := tx.Exec(ctx,
				`INSERT INTO ncsr_sections (filing_id, name, section_type, text_clean, word_count)
				 VALUES ($1, $2, $3, $4, $5)`,
				filingID, sec.Name, string(sec.Type), sec.TextClean, sec.WordCount); err != nil {
				return eris.Wrap(err, "postgres: insert section")
			}
		}
		for _, table := range content.Tables {
			var tableID int64
			if err := tx.QueryRow(ctx,
				`INSERT INTO ncsr_tables (filing_id, table_type, caption, html, row_count, col_count)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				filingID, table.TableType, table.Caption, table.HTML, table.RowCount, table.ColCount,
			).Scan(&tableID); err != nil {
				return eris.Wrap(err, "postgres: insert table")
			}

			rowData := make([][]any, 0, len(table.Rows))
			for _, r := range table.Rows {
				rowData = append(rowData, []any{tableID, r.RowIndex, r.ColName, r.ColValue, string(r.ColType)})
			}
			if _, err := db.CopyFrom(ctx, tx, "ncsr_table_rows",
				[]string{"table_id", "row_index", "col_name", "col_value", "col_type"}, rowData); err != nil {
				return err
			}
		}
		if err := copyFacts(ctx, tx, filingID, content.Facts); err != nil {
			return err
		}
	}

	// One summary row per filing; a rerun replaces the previous outcome.
	errMsg, errType := resultError(parse)
	if _, err := tx.Exec(ctx,
		`INSERT INTO processing_results (filing_id, tier, success, error_message, error_type, table_count, section_count, duration_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (filing_id) DO UPDATE SET
			tier = EXCLUDED.tier, success = EXCLUDED.success,
			error_message = EXCLUDED.error_message, error_type = EXCLUDED.error_type,
			table_count = EXCLUDED.table_count, section_count = EXCLUDED.section_count,
			duration_seconds = EXCLUDED.duration_seconds, created_at = now()`,
		filingID, string(tier), parse.Success, errMsg, errType,
		len(content.Tables), len(content.Sections), duration.Seconds()); err != nil {
		return eris.Wrap(err, "postgres: upsert processing result")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

func updateFiling(ctx context.Context, tx pgx.Tx, filingID int64, tier model.Tier, parse *parser.ParseResult, content *extract.Result) error {
	status := model.StatusFailed
	if parse.Success {
		status = model.StatusCompleted
	}

	md := content.Metadata
	if md == nil {
		md = &parser.Metadata{}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE filings SET
			processing_status = $1, processing_tier = $2, parsing_strategy = NULLIF($3, ''),
			sgml_parsed = $4, xbrl_parsed = $5, sgml_parse_ms = $6, xbrl_parse_ms = $7,
			xbrl_facts_count = $8,
			period_of_report = COALESCE(period_of_report, $9),
			acceptance_datetime = COALESCE(acceptance_datetime, $10),
			sic = COALESCE(sic, NULLIF($11, '')),
			state_of_incorporation = COALESCE(state_of_incorporation, NULLIF($12, '')),
			fiscal_year_end = COALESCE(fiscal_year_end, NULLIF($13, '')),
			business_address = COALESCE(business_address, NULLIF($14, '')),
			business_phone = COALESCE(business_phone, NULLIF($15, '')),
			updated_at = $16
		 WHERE id = $17`,
		string(status), string(tier), string(parse.Strategy),
		parse.SGMLParsed, parse.XBRLParsed,
		parse.SGMLTime.Milliseconds(), parse.XBRLTime.Milliseconds(),
		len(content.Facts),
		md.PeriodOfReport, md.AcceptanceDatetime, md.SIC, md.StateOfIncorporation,
		md.FiscalYearEnd, md.BusinessAddress, md.BusinessPhone,
		time.Now().UTC(), filingID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update filing %d", filingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("filing not found: %d", filingID)
	}
	return nil
}

// clearContent drops previously extracted rows so a reprocessed filing
// ends up with exactly one generation of content. Table rows cascade.
func clearContent(ctx context.Context, tx pgx.Tx, filingID int64) error {
	for _, table := range []string{"ncsr_sections", "ncsr_tables", "xbrl_facts"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE filing_id = $1`, filingID); err != nil {
			return eris.Wrapf(err, "postgres: clear %s", table)
		}
	}
	return nil
}

func upsertFund(ctx context.Context, tx pgx.Tx, filingID int64, fund *model.FundMetadata) error {
	rawJSON, err := json.Marshal(fund.Raw)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fund raw")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO fund_metadata (filing_id, fund_name, total_net_assets, shares_outstanding, nav_per_share, expense_ratio, portfolio_date, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (filing_id) DO UPDATE SET
			fund_name = EXCLUDED.fund_name, total_net_assets = EXCLUDED.total_net_assets,
			shares_outstanding = EXCLUDED.shares_outstanding, nav_per_share = EXCLUDED.nav_per_share,
			expense_ratio = EXCLUDED.expense_ratio, portfolio_date = EXCLUDED.portfolio_date,
			raw = EXCLUDED.raw`,
		filingID, fund.FundName, fund.TotalNetAssets, fund.SharesOutstanding,
		fund.NavPerShare, fund.ExpenseRatio, fund.PortfolioDate, rawJSON)
	return eris.Wrap(err, "postgres: upsert fund metadata")
}

func copyFacts(ctx context.Context, pool db.Pool, filingID int64, facts []model.XbrlFact) error {
	if len(facts) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		var attrsJSON []byte
		if len(f.Attrs) > 0 {
			var err error
			attrsJSON, err = json.Marshal(f.Attrs)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal fact attrs")
			}
		}
		rows = append(rows, []any{
			filingID, f.Concept, f.Value, nullable(f.UnitRef), nullable(f.ContextRef),
			f.PeriodStart, f.PeriodEnd, f.PeriodInstant, nullable(f.EntityIdentifier),
			nullable(f.Decimals), f.Scale, nullable(f.Precision), attrsJSON,
		})
	}
	_, err := db.CopyFrom(ctx, pool, "xbrl_facts",
		[]string{"filing_id", "concept", "value", "unit_ref", "context_ref",
			"period_start", "period_end", "period_instant", "entity_identifier",
			"decimals", "scale", "precision", "attrs"}, rows)
	return err
}

// AddToDLQ upserts the queue entry and updates the filing status in one
// transaction. Entries with retries remaining leave the filing at failed;
// only exhausted or ineligible entries move it to dead_letter. A re-failure
// refreshes everything except the original created_at.
func (s *PostgresStore) AddToDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin dlq add")
	}
	defer tx.Rollback(ctx)

	var suggested *string
	if entry.SuggestedTier != nil {
		v := string(*entry.SuggestedTier)
		suggested = &v
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO dead_letter_queue
			(filing_id, accession_number, failure_reason, failure_type, original_tier,
			 file_size_mb, attempt_count, max_attempts, retry_eligible, last_attempt,
			 next_retry, retry_after_hours, suggested_tier, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (filing_id) DO UPDATE SET
			failure_reason = EXCLUDED.failure_reason, failure_type = EXCLUDED.failure_type,
			file_size_mb = EXCLUDED.file_size_mb, attempt_count = EXCLUDED.attempt_count,
			retry_eligible = EXCLUDED.retry_eligible, last_attempt = EXCLUDED.last_attempt,
			next_retry = EXCLUDED.next_retry, retry_after_hours = EXCLUDED.retry_after_hours,
			suggested_tier = EXCLUDED.suggested_tier, priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at`,
		entry.FilingID, entry.AccessionNumber, entry.FailureReason, string(entry.FailureType),
		nullable(string(entry.OriginalTier)), entry.FileSizeMB, entry.AttemptCount,
		entry.MaxAttempts, entry.RetryEligible, entry.LastAttempt, entry.NextRetry,
		entry.RetryAfterHours, suggested, entry.Priority, entry.CreatedAt, entry.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: upsert dlq entry")
	}

	status := model.StatusDeadLetter
	if entry.RetryEligible {
		status = model.StatusFailed
	}
	if _, err := tx.Exec(ctx,
		`UPDATE filings SET processing_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), entry.FilingID); err != nil {
		return eris.Wrapf(err, "postgres: dead-letter filing %d", entry.FilingID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit dlq add")
}

const dlqColumns = `id, filing_id, accession_number, failure_reason, failure_type,
	original_tier, file_size_mb, attempt_count, max_attempts, retry_eligible,
	last_attempt, next_retry, retry_after_hours, suggested_tier, priority,
	created_at, updated_at`

// NightBatch returns the due retry-eligible entries in batch order:
// priority first, then smaller files, fewer attempts, older entries.
// Entries above maxSizeMB are skipped; a non-positive cap disables it.
func (s *PostgresStore) NightBatch(ctx context.Context, limit int, maxSizeMB float64, now time.Time) ([]resilience.DLQEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_queue
		 WHERE retry_eligible AND next_retry IS NOT NULL AND next_retry <= $1
		   AND attempt_count < max_attempts
		   AND ($2 <= 0 OR file_size_mb <= $2)
		 ORDER BY priority DESC, file_size_mb ASC, attempt_count ASC, created_at ASC
		 LIMIT $3`,
		now, maxSizeMB, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: night batch")
	}
	defer rows.Close()
	return collectDLQ(rows)
}

func (s *PostgresStore) MarkDLQProcessed(ctx context.Context, filingID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE filing_id = $1`, filingID)
	return eris.Wrapf(err, "postgres: mark dlq processed %d", filingID)
}

func (s *PostgresStore) DLQDepth(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: dlq depth")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, limit int) ([]resilience.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_queue
		 ORDER BY priority DESC, created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()
	return collectDLQ(rows)
}

// DailyMetrics aggregates live from filings and processing_results, so
// re-running a day stays idempotent.
func (s *PostgresStore) DailyMetrics(ctx context.Context, date time.Time) (*model.DailyMetrics, error) {
	m := &model.DailyMetrics{Date: date}
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE processing_tier = 'standard' AND processing_status = 'completed'),
			COUNT(*) FILTER (WHERE processing_tier = 'limited' AND processing_status = 'completed'),
			COUNT(*) FILTER (WHERE processing_tier = 'minimal' AND processing_status = 'completed'),
			COUNT(*) FILTER (WHERE processing_status = 'dead_letter'),
			COUNT(*) FILTER (WHERE processing_status IN ('completed', 'failed', 'dead_letter')),
			COALESCE((SELECT SUM(pr.duration_seconds) FROM processing_results pr
			          JOIN filings f2 ON f2.id = pr.filing_id WHERE f2.filing_date = $1), 0),
			COUNT(*) FILTER (WHERE file_size_mb > 50)
		 FROM filings WHERE filing_date = $1`,
		date,
	).Scan(&m.StandardProcessed, &m.LimitedProcessed, &m.MinimalProcessed,
		&m.DeadLettered, &m.TotalProcessed, &m.TotalDurationSeconds, &m.LargeFilesCount)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: daily metrics")
	}
	m.SuccessRate = successRate(m)
	return m, nil
}

// FlushDailyMetrics persists the recomputed aggregate for a date.
func (s *PostgresStore) FlushDailyMetrics(ctx context.Context, date time.Time) error {
	m, err := s.DailyMetrics(ctx, date)
	if err != nil {
		return err
	}
	_, err = db.BulkUpsert(ctx, s.beginner, db.UpsertConfig{
		Table: "processing_metrics_daily",
		Columns: []string{"date", "standard_processed", "limited_processed", "minimal_processed",
			"dead_lettered", "total_processed", "total_duration_seconds", "large_files_count", "success_rate"},
		ConflictKeys: []string{"date"},
	}, [][]any{{
		m.Date, m.StandardProcessed, m.LimitedProcessed, m.MinimalProcessed,
		m.DeadLettered, m.TotalProcessed, m.TotalDurationSeconds, m.LargeFilesCount, m.SuccessRate,
	}})
	return eris.Wrap(err, "postgres: flush daily metrics")
}

func (s *PostgresStore) StartRun(ctx context.Context, kind model.RunKind, targetDate *time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, kind, target_date, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, string(kind), targetDate, string(model.RunRunning), time.Now().UTC())
	if err != nil {
		return "", eris.Wrap(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, counters RunCounters, errText *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, completed_at = $2,
			processed = $3, succeeded = $4, failed = $5, dead_lettered = $6, error = $7
		 WHERE id = $8`,
		string(status), time.Now().UTC(),
		counters.Processed, counters.Succeeded, counters.Failed, counters.DeadLettered,
		errText, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, target_date, status, started_at, completed_at,
		        processed, succeeded, failed, dead_lettered, error
		 FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		var r model.IngestionRun
		if err := rows.Scan(&r.ID, &r.Kind, &r.TargetDate, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.Processed, &r.Succeeded, &r.Failed, &r.DeadLettered, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Cleanup removes terminally-processed filings past retention (children
// cascade), aged dead-lettered filings whose queue entry will never retry,
// stale ineligible queue entries, and run-log rows of the same age.
func (s *PostgresStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM filings
		 WHERE updated_at < $1 AND processing_status IN ('completed', 'failed')`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: cleanup filings")
	}
	removed := tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM filings
		 WHERE updated_at < $1 AND processing_status = 'dead_letter'
		   AND id IN (SELECT filing_id FROM dead_letter_queue WHERE NOT retry_eligible)`, cutoff)
	if err != nil {
		return removed, eris.Wrap(err, "postgres: cleanup dead-lettered filings")
	}
	removed += tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM dead_letter_queue WHERE updated_at < $1 AND NOT retry_eligible`, cutoff)
	if err != nil {
		return removed, eris.Wrap(err, "postgres: cleanup dlq")
	}
	removed += tag.RowsAffected()

	tag, err = s.pool.Exec(ctx,
		`DELETE FROM ingestion_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return removed, eris.Wrap(err, "postgres: cleanup runs")
	}
	return removed + tag.RowsAffected(), nil
}

// helpers

func scanFiling(row pgx.Row) (*model.Filing, error) {
	var f model.Filing
	var tier, strategy *string
	err := row.Scan(&f.ID, &f.AccessionNumber, &f.CIK, &f.CompanyName, &f.FormType,
		&f.FilingDate, &f.PeriodOfReport, &f.AcceptanceDatetime, &f.SIC,
		&f.StateOfIncorporation, &f.FiscalYearEnd, &f.BusinessAddress, &f.BusinessPhone,
		&f.FileSizeMB, &f.SourceURL, &f.ProcessingStatus, &tier, &strategy,
		&f.SGMLParsed, &f.XBRLParsed, &f.SGMLParseMS, &f.XBRLParseMS, &f.XBRLFactsCount,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tier != nil {
		t := model.Tier(*tier)
		f.ProcessingTier = &t
	}
	if strategy != nil {
		st := model.ParsingStrategy(*strategy)
		f.ParsingStrategy = &st
	}
	return &f, nil
}

func collectDLQ(rows pgx.Rows) ([]resilience.DLQEntry, error) {
	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var originalTier, suggestedTier *string
		if err := rows.Scan(&e.ID, &e.FilingID, &e.AccessionNumber, &e.FailureReason,
			&e.FailureType, &originalTier, &e.FileSizeMB, &e.AttemptCount, &e.MaxAttempts,
			&e.RetryEligible, &e.LastAttempt, &e.NextRetry, &e.RetryAfterHours,
			&suggestedTier, &e.Priority, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if originalTier != nil {
			e.OriginalTier = model.Tier(*originalTier)
		}
		if suggestedTier != nil {
			t := model.Tier(*suggestedTier)
			e.SuggestedTier = &t
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dlq iterate")
}

func resultError(parse *parser.ParseResult) (*string, *string) {
	if parse.Error == "" {
		return nil, nil
	}
	msg := parse.Error
	ft := string(model.FailureParsing)
	return &msg, &ft
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func successRate(m *model.DailyMetrics) float64 {
	completed := m.StandardProcessed + m.LimitedProcessed + m.MinimalProcessed
	denom := completed + m.DeadLettered
	if denom == 0 {
		return 0
	}
	return float64(completed) / float64(denom) * 100
}
