package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/resilience"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

func newServeTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestServeHealthz(t *testing.T) {
	mux := newServeMux(newServeTestStore(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeFilingByAccession(t *testing.T) {
	ctx := context.Background()
	st := newServeTestStore(t)
	_, err := st.UpsertFilings(ctx, []model.Descriptor{{
		AccessionNumber: "0001-24-000001",
		CIK:             "1084380",
		CompanyName:     "TIAA-CREF FUNDS",
		FormType:        "N-CSR",
		FilingDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}}, "https://www.sec.gov")
	require.NoError(t, err)

	mux := newServeMux(st)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/filings/0001-24-000001", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var f model.Filing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	assert.Equal(t, "TIAA-CREF FUNDS", f.CompanyName)
	assert.Equal(t, model.StatusPending, f.ProcessingStatus)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/filings/0000-00-000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeDailyMetricsRejectsBadDate(t *testing.T) {
	mux := newServeMux(newServeTestStore(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/daily?date=03-15-2024", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/daily?date=2024-03-15", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeDLQSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newServeTestStore(t)
	_, err := st.UpsertFilings(ctx, []model.Descriptor{{
		AccessionNumber: "0001-24-000002",
		CIK:             "1084380",
		CompanyName:     "TIAA-CREF FUNDS",
		FormType:        "N-CSR",
		FilingDate:      time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}}, "https://www.sec.gov")
	require.NoError(t, err)
	f, err := st.GetByAccession(ctx, "0001-24-000002")
	require.NoError(t, err)

	policy := resilience.DefaultRetryPolicy()
	entry := policy.NewEntry(f.ID, f.AccessionNumber, "connection reset",
		model.FailureNetwork, model.TierStandard, 2.0, time.Now().UTC())
	require.NoError(t, st.AddToDLQ(ctx, entry))

	mux := newServeMux(st)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dlq", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Depth   int                   `json:"depth"`
		Entries []resilience.DLQEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Depth)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "0001-24-000002", body.Entries[0].AccessionNumber)
}
