package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ncsr-ingest/internal/fetcher"
)

type mockFetcher struct {
	body    []byte
	err     error
	lastURL string
}

func (m *mockFetcher) Get(_ context.Context, url string) ([]byte, error) {
	m.lastURL = url
	return m.body, m.err
}

func (m *mockFetcher) Head(_ context.Context, url string) (int64, error) {
	return 0, nil
}

const sampleIndex = `Description:           Daily Index of EDGAR Dissemination Feed
Last Data Received:    March 15, 2024
Comments:              webmaster@sec.gov
Anonymous FTP:         ftp://ftp.sec.gov/edgar/
Cloud HTTP:            https://www.sec.gov/Archives/



CIK|Company Name|Form Type|Date Filed|File Name
--------------------------------------------------------------------------------

1084380|TIAA-CREF FUNDS|N-CSR|2024-03-15|edgar/data/1084380/0001193125-24-000001.txt
320193|APPLE INC|10-K|2024-03-15|edgar/data/320193/0000320193-24-000123.txt
1111111|TRAILING FORM CO|N-CSRS |2024-03-15|edgar/data/1111111/0001111111-24-000002.txt
22222|SHORT LINE FUND|N-CSR|2024-03-15|edgar/data/22222/0000222222-24-000003.txt
not a valid line
`

func TestFilingsForParsesAndFilters(t *testing.T) {
	mf := &mockFetcher{body: []byte(sampleIndex)}
	src := NewSource(mf, "https://www.sec.gov")

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	got, err := src.FilingsFor(context.Background(), date, []string{"N-CSR", "N-CSRS"})
	require.NoError(t, err)

	assert.Equal(t, "https://www.sec.gov/Archives/edgar/daily-index/2024/QTR1/master.20240315.idx", mf.lastURL)

	require.Len(t, got, 3, "10-K filtered out, malformed line skipped")
	assert.Equal(t, "0001193125-24-000001", got[0].AccessionNumber)
	assert.Equal(t, "1084380", got[0].CIK)
	assert.Equal(t, "TIAA-CREF FUNDS", got[0].CompanyName)
	assert.Equal(t, "N-CSR", got[0].FormType)
	assert.Equal(t, date, got[0].FilingDate)

	// Trailing space in the index's form type column is trimmed before matching.
	assert.Equal(t, "N-CSRS", got[1].FormType)
	assert.Equal(t, "0001111111-24-000002", got[1].AccessionNumber)
}

func TestFilingsForNoFilter(t *testing.T) {
	mf := &mockFetcher{body: []byte(sampleIndex)}
	src := NewSource(mf, "https://www.sec.gov")

	got, err := src.FilingsFor(context.Background(), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestFilingsForMissingIndexIsEmpty(t *testing.T) {
	mf := &mockFetcher{err: fetcher.ErrNotFound}
	src := NewSource(mf, "https://www.sec.gov")

	got, err := src.FilingsFor(context.Background(), time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err, "404 means no filings that day")
	assert.Empty(t, got)
}

func TestIndexURLQuarters(t *testing.T) {
	src := NewSource(&mockFetcher{}, "https://www.sec.gov")

	tests := []struct {
		month time.Month
		qtr   string
	}{
		{time.January, "QTR1"},
		{time.March, "QTR1"},
		{time.April, "QTR2"},
		{time.June, "QTR2"},
		{time.July, "QTR3"},
		{time.September, "QTR3"},
		{time.October, "QTR4"},
		{time.December, "QTR4"},
	}
	for _, tt := range tests {
		url := src.IndexURL(time.Date(2024, tt.month, 10, 0, 0, 0, 0, time.UTC))
		assert.Contains(t, url, tt.qtr, "month %s", tt.month)
	}
}

func TestFilingsForHeaderOnlyIndex(t *testing.T) {
	header := "Description: x\n\n\n\n\n\n\nCIK|Company Name|Form Type|Date Filed|File Name\n----\n"
	mf := &mockFetcher{body: []byte(header)}
	src := NewSource(mf, "https://www.sec.gov")

	got, err := src.FilingsFor(context.Background(), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
