package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/assesshub/gateway/metrics"
)

func TestSupportHandler(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		supportHandler(metrics.Void).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics without a collecting backend", func(t *testing.T) {
		rec := httptest.NewRecorder()
		supportHandler(metrics.Void).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("metrics with prometheus", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h := supportHandler(metrics.NewPrometheus(metrics.Options{}))
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
