package model

import (
	"fmt"
	"strings"
	"time"
)

// ProcessingStatus represents the lifecycle state of a filing.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusDeadLetter ProcessingStatus = "dead_letter"
)

// Tier classifies how much extraction work a filing receives, by size.
type Tier string

const (
	TierStandard   Tier = "standard"    // full extraction
	TierLimited    Tier = "limited"     // top tables only
	TierMinimal    Tier = "minimal"     // key metrics only
	TierDeadLetter Tier = "dead_letter" // never attempted
)

// ParsingStrategy records which sub-parsers ran for a filing.
type ParsingStrategy string

const (
	StrategySGMLOnly ParsingStrategy = "sgml_only"
	StrategyXBRLOnly ParsingStrategy = "xbrl_only"
	StrategyHybrid   ParsingStrategy = "hybrid"
)

// FailureType is the error taxonomy shared by DLQ entries and results.
type FailureType string

const (
	FailureTimeout      FailureType = "timeout"
	FailureMemory       FailureType = "memory"
	FailureNetwork      FailureType = "network"
	FailureParsing      FailureType = "parsing"
	FailureProcessing   FailureType = "processing"
	FailureFileTooLarge FailureType = "file_too_large"
	FailureTemporary    FailureType = "temporary"
)

// Filing is one row per unique accession number.
type Filing struct {
	ID                   int64            `json:"id"`
	AccessionNumber      string           `json:"accession_number"`
	CIK                  string           `json:"cik"`
	CompanyName          string           `json:"company_name"`
	FormType             string           `json:"form_type"`
	FilingDate           time.Time        `json:"filing_date"`
	PeriodOfReport       *time.Time       `json:"period_of_report,omitempty"`
	AcceptanceDatetime   *time.Time       `json:"acceptance_datetime,omitempty"`
	SIC                  *string          `json:"sic,omitempty"`
	StateOfIncorporation *string          `json:"state_of_incorporation,omitempty"`
	FiscalYearEnd        *string          `json:"fiscal_year_end,omitempty"`
	BusinessAddress      *string          `json:"business_address,omitempty"`
	BusinessPhone        *string          `json:"business_phone,omitempty"`
	FileSizeMB           float64          `json:"file_size_mb"`
	SourceURL            string           `json:"source_url"`
	ProcessingStatus     ProcessingStatus `json:"processing_status"`
	ProcessingTier       *Tier            `json:"processing_tier,omitempty"` // null until routed
	ParsingStrategy      *ParsingStrategy `json:"parsing_strategy,omitempty"`
	SGMLParsed           bool             `json:"sgml_parsed"`
	XBRLParsed           bool             `json:"xbrl_parsed"`
	SGMLParseMS          int64            `json:"sgml_parse_ms"`
	XBRLParseMS          int64            `json:"xbrl_parse_ms"`
	XBRLFactsCount       int              `json:"xbrl_facts_count"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Descriptor identifies a filing discovered in a daily master index.
type Descriptor struct {
	AccessionNumber string    `json:"accession_number"`
	CIK             string    `json:"cik"`
	CompanyName     string    `json:"company_name"`
	FormType        string    `json:"form_type"`
	FilingDate      time.Time `json:"filing_date"`
}

// DocumentURL builds the full-text submission URL for the descriptor.
// CIK leading zeros are stripped in the path; the accession keeps its
// dashes in the final segment and drops them in the directory segment.
func (d Descriptor) DocumentURL(base string) string {
	cik := strings.TrimLeft(d.CIK, "0")
	if cik == "" {
		cik = "0"
	}
	flat := strings.ReplaceAll(d.AccessionNumber, "-", "")
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s.txt", strings.TrimRight(base, "/"), cik, flat, d.AccessionNumber)
}
