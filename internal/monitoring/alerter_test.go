package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ncsr-ingest/internal/config"
)

func TestEvaluateFilingFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.25})

	snap := &MetricsSnapshot{
		FilingsProcessed:    40,
		FilingsFailed:       10,
		FilingsDeadLettered: 5,
		FilingFailRate:      0.375,
		LookbackRuns:        20,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFilingFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "37.5%")
}

func TestEvaluateFailureRateNeedsVolume(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.25})

	snap := &MetricsSnapshot{
		FilingsProcessed: 2,
		FilingsFailed:    2,
		FilingFailRate:   1.0,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateRunFailureAndDLQDepth(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{DLQDepthThreshold: 50})

	snap := &MetricsSnapshot{
		RunsTotal:    10,
		RunsComplete: 8,
		RunsFailed:   2,
		DLQDepth:     75,
		LookbackRuns: 10,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRunFailure, alerts[0].Type)
	assert.Equal(t, AlertDLQDepth, alerts[1].Type)
	assert.Equal(t, "medium", alerts[1].Severity)
}

func TestEvaluateQuietSnapshot(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{FailureRateThreshold: 0.25, DLQDepthThreshold: 50})

	snap := &MetricsSnapshot{
		RunsTotal:        5,
		RunsComplete:     5,
		FilingsProcessed: 100,
		FilingsSucceeded: 100,
		DLQDepth:         3,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestSendAlertsPostsWebhook(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{
		Type:      AlertDLQDepth,
		Severity:  "medium",
		Message:   "Dead-letter queue depth 75 exceeds threshold 50",
		Timestamp: time.Now().UTC(),
	}})

	assert.Equal(t, 1, sent)
	assert.Equal(t, AlertDLQDepth, got.Type)
}

func TestSendAlertsCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure}})
	assert.Zero(t, sent)
}

func TestSendAlertsNoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailure}}))
}
