package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/parser"
)

func makeTable(caption string, rows, cols int) model.Table {
	t := model.Table{
		Caption:  caption,
		HTML:     "<table></table>",
		RowCount: rows,
		ColCount: cols,
	}
	for i := 0; i < rows-1; i++ {
		v := "1"
		t.Rows = append(t.Rows, model.TableRow{RowIndex: i, ColName: "c", ColValue: &v, ColType: model.ColNumber})
	}
	return t
}

const sampleText = `<html><title>ACME Growth Fund Annual Report</title><body>
The net asset value per share was $12.34 at year end.
Total net assets of $1,234,567,890.
The expense ratio was 0.45% for the period.
Management fee of 0.30% applied.
Portfolio turnover of 38% for the year.
Shares outstanding 100,052,331.
CIK: 1084380
For the period ended December 31, 2023.
Investment Objective: The fund seeks long-term capital appreciation through a diversified portfolio of large-capitalization equities listed on US exchanges
</body></html>`

func TestKeyMetrics(t *testing.T) {
	metrics := KeyMetrics(sampleText)
	assert.Equal(t, "12.34", metrics["nav_per_share"])
	assert.Equal(t, "1,234,567,890", metrics["total_assets"])
	assert.Equal(t, "0.45%", metrics["expense_ratio"])
	assert.Equal(t, "0.30%", metrics["management_fee"])
	assert.Equal(t, "38%", metrics["portfolio_turnover"])
	assert.Equal(t, "100,052,331", metrics["shares_outstanding"])
}

func TestApplyMinimal(t *testing.T) {
	res := &parser.ParseResult{
		Metadata: &parser.Metadata{CompanyName: "ACME Growth Fund"},
		Tables:   []model.Table{makeTable("Schedule of Investments", 10, 4)},
		Facts:    []model.XbrlFact{{Concept: "us-gaap:Assets", Value: "1"}},
	}

	out := Apply(res, model.TierMinimal, sampleText)

	assert.Empty(t, out.Tables, "minimal tier drops tables")
	assert.Len(t, out.Facts, 1, "facts survive every tier")

	require.NotNil(t, out.Fund)
	require.NotNil(t, out.Fund.FundName)
	assert.Equal(t, "ACME Growth Fund", *out.Fund.FundName)
	require.NotNil(t, out.Fund.NavPerShare)
	assert.InDelta(t, 12.34, *out.Fund.NavPerShare, 0.001)
	require.NotNil(t, out.Fund.ExpenseRatio)
	assert.InDelta(t, 0.45, *out.Fund.ExpenseRatio, 0.001)
	require.NotNil(t, out.Fund.TotalNetAssets)
	assert.InDelta(t, 1234567890, *out.Fund.TotalNetAssets, 0.5)

	var names []string
	for _, s := range out.Sections {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "investment_objective")
}

func TestApplyMinimalSupplementsMetadata(t *testing.T) {
	res := &parser.ParseResult{Metadata: &parser.Metadata{}}
	out := Apply(res, model.TierMinimal, sampleText)

	assert.Equal(t, "1084380", out.Metadata.CIK)
	assert.Equal(t, "ACME Growth Fund Annual Report", out.Metadata.Additional["document_title"])
	require.NotNil(t, out.Metadata.PeriodOfReport)
	assert.Equal(t, 2023, out.Metadata.PeriodOfReport.Year())
}

func TestApplyLimitedTableRules(t *testing.T) {
	var tables []model.Table
	// Three holdings tables: the per-pattern cap keeps two.
	for i := 0; i < 3; i++ {
		tables = append(tables, makeTable("Schedule of Investments", 10, 4))
	}
	// Too few rows.
	tables = append(tables, makeTable("Statement of Assets and Liabilities", 3, 2))
	// Oversized HTML.
	big := makeTable("Statement of Operations", 10, 4)
	big.HTML = strings.Repeat("x", 101*1024)
	tables = append(tables, big)
	// top_holdings is priority 10, beyond the limited tier's scan.
	tables = append(tables, makeTable("Top Holdings", 10, 4))

	out := Apply(&parser.ParseResult{Tables: tables}, model.TierLimited, "")

	require.Len(t, out.Tables, 2)
	assert.Equal(t, "portfolio_holdings", out.Tables[0].TableType)
	assert.Equal(t, "portfolio_holdings", out.Tables[1].TableType)
}

func TestApplyLimitedTableCap(t *testing.T) {
	var tables []model.Table
	captions := []string{
		"Schedule of Investments", "Statement of Assets and Liabilities",
		"Statement of Operations", "Financial Highlights", "Expense Ratios",
	}
	for _, c := range captions {
		tables = append(tables, makeTable(c, 10, 4), makeTable(c, 10, 4), makeTable(c, 10, 4))
	}
	out := Apply(&parser.ParseResult{Tables: tables}, model.TierLimited, "")
	assert.Len(t, out.Tables, 10, "two per pattern across five patterns")
}

func TestApplyStandardAdmitsUnmatched(t *testing.T) {
	tables := []model.Table{
		makeTable("Schedule of Investments", 10, 4),
		makeTable("Quarterly Commentary", 10, 4), // unmatched, big enough
		makeTable("Tiny", 3, 2),                  // unmatched, too small
	}
	out := Apply(&parser.ParseResult{Tables: tables}, model.TierStandard, "")

	require.Len(t, out.Tables, 2)
	assert.Equal(t, "portfolio_holdings", out.Tables[0].TableType)
	assert.Equal(t, "Quarterly Commentary", out.Tables[1].Caption)
}

func TestApplyStandardCap(t *testing.T) {
	var tables []model.Table
	for i := 0; i < 30; i++ {
		tables = append(tables, makeTable(fmt.Sprintf("Untitled %d", i), 10, 4))
	}
	out := Apply(&parser.ParseResult{Tables: tables}, model.TierStandard, "")
	assert.Len(t, out.Tables, 20)
}

func TestNoFundRowWithoutSignal(t *testing.T) {
	res := &parser.ParseResult{Metadata: &parser.Metadata{CompanyName: "ACME Trust"}}
	out := Apply(res, model.TierStandard, "no metrics in this text")
	assert.Nil(t, out.Fund, "no fund substring and no metrics")
}
