package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

const sampleHTML = `<html><body>
<h1>Annual Report</h1>
<p>To our shareholders.</p>
<h2>Fund Performance</h2>
<p>The fund returned 12.3% for the year.</p>
<p>Benchmark returned 10.1%.</p>
<h2>Schedule of Investments</h2>
<p>Holdings as of December 31, 2023.</p>
<table>
  <caption>Schedule of Investments</caption>
  <tr><th>Security</th><th>Shares</th><th>Market Value</th></tr>
  <tr><td>Apple Inc</td><td>1,000</td><td>$192,530</td></tr>
  <tr><td>Microsoft Corp</td><td>500</td><td>$187,910</td></tr>
</table>
<h3>Expense Example</h3>
<p>Expense ratio held at 0.45%.</p>
<table>
  <tr><th>Period</th><th>Return</th></tr>
  <tr><td>1 Year</td><td>12.3%</td></tr>
  <tr><td>-</td><td>n/a</td></tr>
</table>
</body></html>`

func TestExtractSections(t *testing.T) {
	res, err := ParseHTML(sampleHTML, HTMLOptions{SkipTables: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Sections)

	byName := map[string]model.Section{}
	for _, s := range res.Sections {
		byName[s.Name] = s
	}

	perf, ok := byName["Fund Performance"]
	require.True(t, ok)
	assert.Equal(t, model.SectionPerformance, perf.Type)
	assert.Contains(t, perf.TextClean, "12.3%")
	assert.Contains(t, perf.TextClean, "Benchmark")
	// The next h2 closes the section.
	assert.NotContains(t, perf.TextClean, "Holdings as of")
	assert.Equal(t, len(strings.Fields(perf.TextClean)), perf.WordCount)

	holdings, ok := byName["Schedule of Investments"]
	require.True(t, ok)
	assert.Equal(t, model.SectionPortfolio, holdings.Type)

	expenses, ok := byName["Expense Example"]
	require.True(t, ok)
	assert.Equal(t, model.SectionExpenses, expenses.Type)
}

func TestExtractTables(t *testing.T) {
	res, err := ParseHTML(sampleHTML, HTMLOptions{})
	require.NoError(t, err)
	require.Len(t, res.Tables, 2)

	holdings := res.Tables[0]
	assert.Equal(t, "Schedule of Investments", holdings.Caption)
	assert.Equal(t, "portfolio_holdings", holdings.TableType)
	assert.Equal(t, 3, holdings.RowCount)
	assert.Equal(t, 3, holdings.ColCount)
	assert.Contains(t, holdings.HTML, "<table>")

	require.Len(t, holdings.Rows, 6)
	first := holdings.Rows[0]
	assert.Equal(t, 0, first.RowIndex)
	assert.Equal(t, "Security", first.ColName)
	require.NotNil(t, first.ColValue)
	assert.Equal(t, "Apple Inc", *first.ColValue)
	assert.Equal(t, model.ColText, first.ColType)

	assert.Equal(t, model.ColNumber, holdings.Rows[1].ColType)
	assert.Equal(t, model.ColCurrency, holdings.Rows[2].ColType)
}

func TestExtractTablesMaxCap(t *testing.T) {
	res, err := ParseHTML(sampleHTML, HTMLOptions{MaxTables: 1})
	require.NoError(t, err)
	assert.Len(t, res.Tables, 1)
}

func TestHeaderRowKeywordClassification(t *testing.T) {
	html := `<table><tr><th>Security</th><th>Principal</th></tr><tr><td>Bond A</td><td>100</td></tr></table>`
	res, err := ParseHTML(html, HTMLOptions{})
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "portfolio_holdings", res.Tables[0].TableType)
}

func TestInferCellType(t *testing.T) {
	tests := []struct {
		value string
		want  model.ColType
	}{
		{"12.3%", model.ColPercentage},
		{"(1.5%)", model.ColPercentage},
		{"$192,530", model.ColCurrency},
		{"1,000", model.ColNumber},
		{"(250)", model.ColNumber},
		{"-42.5", model.ColNumber},
		{"12/31/2023", model.ColDate},
		{"December 31, 2023", model.ColDate},
		{"-", model.ColNull},
		{"n/a", model.ColNull},
		{"Apple Inc", model.ColText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferCellType(tt.value), "value %q", tt.value)
	}
}

func TestClassifyTableByPattern(t *testing.T) {
	assert.Equal(t, "portfolio_holdings",
		ClassifyTableByPattern("Schedule of Investments", "", 0))
	assert.Equal(t, "assets_liabilities",
		ClassifyTableByPattern("Statement of Assets and Liabilities", "", 0))
	assert.Equal(t, "top_holdings",
		ClassifyTableByPattern("Top Holdings", "", 0))
	// Priority bound: top_holdings is priority 10, out of the limited scan.
	assert.Equal(t, "",
		ClassifyTableByPattern("Top Holdings", "", 5))
}
