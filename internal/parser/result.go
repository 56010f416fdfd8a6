// Package parser turns raw EDGAR filing bytes into a normalized result,
// combining SGML header parsing, inline XBRL fact extraction, and HTML
// section/table extraction.
package parser

import (
	"time"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

// Metadata holds the filing header fields surfaced by the sub-parsers.
// Keys the SGML header carries beyond these land in Additional.
type Metadata struct {
	AccessionNumber      string            `json:"accession_number,omitempty"`
	CIK                  string            `json:"cik,omitempty"`
	CompanyName          string            `json:"company_name,omitempty"`
	FormType             string            `json:"form_type,omitempty"`
	FilingDate           *time.Time        `json:"filing_date,omitempty"`
	PeriodOfReport       *time.Time        `json:"period_of_report,omitempty"`
	AcceptanceDatetime   *time.Time        `json:"acceptance_datetime,omitempty"`
	SIC                  string            `json:"sic,omitempty"`
	StateOfIncorporation string            `json:"state_of_incorporation,omitempty"`
	FiscalYearEnd        string            `json:"fiscal_year_end,omitempty"`
	BusinessAddress      string            `json:"business_address,omitempty"`
	BusinessPhone        string            `json:"business_phone,omitempty"`
	DocumentCount        int               `json:"document_count,omitempty"`
	Additional           map[string]string `json:"additional,omitempty"`
}

// Document is one <DOCUMENT> block embedded in an SGML submission.
type Document struct {
	Type        string `json:"type"`
	Sequence    int    `json:"sequence"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
	Body        string `json:"-"`
}

// ParseResult is the normalized output of the pipeline, independent of the
// input shape. Per-sub-parser success is tracked separately; Success is true
// if at least one sub-parser succeeded.
type ParseResult struct {
	Success  bool                  `json:"success"`
	Strategy model.ParsingStrategy `json:"strategy"`

	Metadata  *Metadata        `json:"metadata,omitempty"`
	Facts     []model.XbrlFact `json:"facts,omitempty"`
	Sections  []model.Section  `json:"sections,omitempty"`
	Tables    []model.Table    `json:"tables,omitempty"`
	Documents []Document       `json:"documents,omitempty"`

	SGMLParsed bool          `json:"sgml_parsed"`
	XBRLParsed bool          `json:"xbrl_parsed"`
	SGMLTime   time.Duration `json:"sgml_time"`
	XBRLTime   time.Duration `json:"xbrl_time"`

	Error string `json:"error,omitempty"`
}
