package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	Handler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusMeasurements(t *testing.T) {
	p := NewPrometheus(Options{})

	p.MeasureServe("api", "GET", 200, time.Now().Add(-15*time.Millisecond))
	p.MeasureServe("api", "TEAPOT", 418, time.Now())
	p.MeasureBackend("api", time.Now().Add(-5*time.Millisecond))
	p.IncErrorsBackend("api")
	p.IncErrorsStreaming("admin")
	p.IncRoutingFailures()
	p.IncRoutingFailures()
	p.IncCounter("incoming.HTTP/1.1")

	out := scrape(t, p)

	assert.Contains(t, out, `gateway_serve_duration_seconds_count{code="200",method="GET",route="api"} 1`)
	// unknown methods are collapsed to protect the label cardinality
	assert.Contains(t, out, `method="_unknownmethod_"`)
	assert.Contains(t, out, `gateway_backend_duration_seconds_count{route="api"} 1`)
	assert.Contains(t, out, `gateway_backend_error_total{route="api"} 1`)
	assert.Contains(t, out, `gateway_streaming_error_total{route="admin"} 1`)
	assert.Contains(t, out, `gateway_route_error_total 2`)
	assert.Contains(t, out, `gateway_custom_total{key="incoming.HTTP/1.1"} 1`)
}

func TestPrometheusPrefix(t *testing.T) {
	p := NewPrometheus(Options{Prefix: "assesshub."})
	p.IncRoutingFailures()

	out := scrape(t, p)
	assert.Contains(t, out, "assesshub_route_error_total 1")
	assert.False(t, strings.Contains(out, "gateway_route_error_total"))
}

func TestRuntimeMetrics(t *testing.T) {
	p := NewPrometheus(Options{EnableRuntimeMetrics: true})

	out := scrape(t, p)
	assert.Contains(t, out, "go_goroutines")
}

func TestVoidHasNoHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(Void).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
