package middleware

import (
	"net/http"
	"strconv"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/metrics"
)

// Metrics counts requests by environment, method and response status.
// Methods outside the standard set are counted as "other".
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(httputil.Env(r), methodLabel(r.Method), strconv.Itoa(rec.StatusCode)).Inc()
	})
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	default:
		return "other"
	}
}
