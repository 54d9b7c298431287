package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetSubscribers("a", 1)
		m.SetBufferedLines("a", 1)
		m.SetState("a", "idle", []string{"idle"})
		m.AddLines("a", 3)
		m.RecordDelivery("a", 1, 1, 1)
		m.ProcessStarted("a", "ok")
		m.ProcessExited("a", "ended")
		m.ConnectionOpened()
		m.ConnectionClosed()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersAndGauges(t *testing.T) {
	t.Parallel()

	m := New()
	m.AddLines("app", 2)
	m.AddLines("app", 0)
	m.RecordDelivery("app", 3, 1, 0)
	m.SetSubscribers("app", 4)
	m.SetState("app", "streaming", []string{"idle", "streaming"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.linesTotal.WithLabelValues("app")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deliveries.WithLabelValues("app", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("app", "dropped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.subscribers.WithLabelValues("app")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceState.WithLabelValues("app", "streaming")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sourceState.WithLabelValues("app", "idle")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ProcessStarted("app", "ok")
	m.ConnectionOpened()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tailexplorer_process_starts_total{result="ok",source="app"} 1`)
	assert.Contains(t, string(body), "tailexplorer_websocket_connections 1")
}
