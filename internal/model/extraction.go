package model

import "time"

// SectionType tags a narrative section of a shareholder report.
type SectionType string

const (
	SectionPortfolio   SectionType = "portfolio"
	SectionPerformance SectionType = "performance"
	SectionExpenses    SectionType = "expenses"
	SectionRiskFactors SectionType = "risk_factors"
	SectionFinancials  SectionType = "financials"
	SectionOther       SectionType = "other"
)

// ColType is the inferred scalar type of a normalized table cell.
type ColType string

const (
	ColCurrency   ColType = "currency"
	ColPercentage ColType = "percentage"
	ColNumber     ColType = "number"
	ColDate       ColType = "date"
	ColText       ColType = "text"
	ColNull       ColType = "null"
)

// FundMetadata holds fund-level header data, at most one row per filing.
type FundMetadata struct {
	ID                int64          `json:"id"`
	FilingID          int64          `json:"filing_id"`
	FundName          *string        `json:"fund_name,omitempty"`
	TotalNetAssets    *float64       `json:"total_net_assets,omitempty"`
	SharesOutstanding *float64       `json:"shares_outstanding,omitempty"`
	NavPerShare       *float64       `json:"nav_per_share,omitempty"`
	ExpenseRatio      *float64       `json:"expense_ratio,omitempty"`
	PortfolioDate     *time.Time     `json:"portfolio_date,omitempty"`
	Raw               map[string]any `json:"raw,omitempty"` // parser-provided extras
}

// Section is one classified narrative section extracted from a filing.
type Section struct {
	ID        int64       `json:"id"`
	FilingID  int64       `json:"filing_id"`
	Name      string      `json:"name"`
	Type      SectionType `json:"type"`
	TextClean string      `json:"text_clean"`
	WordCount int         `json:"word_count"`
}

// Table is one extracted HTML table with its long-form rows.
type Table struct {
	ID        int64      `json:"id"`
	FilingID  int64      `json:"filing_id"`
	TableType string     `json:"table_type"`
	Caption   string     `json:"caption"`
	HTML      string     `json:"html,omitempty"`
	RowCount  int        `json:"row_count"`
	ColCount  int        `json:"col_count"`
	Rows      []TableRow `json:"rows,omitempty"`
}

// TableRow is one scalar cell in long-form normalization.
type TableRow struct {
	ID       int64   `json:"id"`
	TableID  int64   `json:"table_id"`
	RowIndex int     `json:"row_index"`
	ColName  string  `json:"col_name"`
	ColValue *string `json:"col_value,omitempty"`
	ColType  ColType `json:"col_type"`
}

// XbrlFact is one inline-XBRL fact with its resolved context.
type XbrlFact struct {
	ID               int64             `json:"id"`
	FilingID         int64             `json:"filing_id"`
	Concept          string            `json:"concept"`
	Value            string            `json:"value"`
	UnitRef          string            `json:"unit_ref,omitempty"`
	ContextRef       string            `json:"context_ref,omitempty"`
	PeriodStart      *time.Time        `json:"period_start,omitempty"`
	PeriodEnd        *time.Time        `json:"period_end,omitempty"`
	PeriodInstant    *time.Time        `json:"period_instant,omitempty"`
	EntityIdentifier string            `json:"entity_identifier,omitempty"`
	Decimals         string            `json:"decimals,omitempty"` // integer or "INF"
	Scale            int               `json:"scale"`
	Precision        string            `json:"precision,omitempty"`
	Attrs            map[string]string `json:"attrs,omitempty"`
}

// ProcessingResult summarizes the most recent run for a filing.
type ProcessingResult struct {
	ID              int64       `json:"id"`
	FilingID        int64       `json:"filing_id"`
	Tier            Tier        `json:"tier"`
	Success         bool        `json:"success"`
	ErrorMessage    *string     `json:"error_message,omitempty"`
	ErrorType       FailureType `json:"error_type,omitempty"`
	TableCount      int         `json:"table_count"`
	SectionCount    int         `json:"section_count"`
	DurationSeconds float64     `json:"duration_seconds"`
	CreatedAt       time.Time   `json:"created_at"`
}
