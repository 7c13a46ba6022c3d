package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	counter := metrics.HTTPRequests.WithLabelValues("metrics-test", http.MethodDelete, "409")
	before := testutil.ToFloat64(counter)

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}), Env("metrics-test"), Metrics)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/orders/1", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetricsClampsUnknownMethods(t *testing.T) {
	other := metrics.HTTPRequests.WithLabelValues("metrics-method-test", "other", "200")
	before := testutil.ToFloat64(other)

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), Env("metrics-method-test"), Metrics)
	for _, method := range []string{"FOO", "BAR", "PROPFIND"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, "/api/orders/1", nil))
	}

	assert.Equal(t, before+3, testutil.ToFloat64(other))
}
