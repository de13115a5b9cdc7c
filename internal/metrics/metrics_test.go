package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("gullies", OutcomeOK, time.Second)
	m.IncStaleDiscard("gullies")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "metrics unavailable")
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveFetch("gullies", OutcomeOK, 12*time.Millisecond)
	m.ObserveFetch("gullies", OutcomeSkipped, 0)
	m.ObserveBatch(20 * time.Millisecond)
	m.IncStaleDiscard("gullies")
	m.IncClick("opened")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `platmap_layer_fetches_total{layer="gullies",outcome="ok"} 1`)
	assert.Contains(t, body, `platmap_layer_fetches_total{layer="gullies",outcome="skipped"} 1`)
	assert.Contains(t, body, `platmap_layer_fetch_duration_seconds_count{layer="gullies"} 1`)
	assert.Contains(t, body, `platmap_sync_batches_total 1`)
	assert.Contains(t, body, `platmap_sync_stale_discards_total{layer="gullies"} 1`)
	assert.Contains(t, body, `platmap_clicks_total{outcome="opened"} 1`)
}
