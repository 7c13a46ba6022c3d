package middleware

import (
	"context"
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds client-supplied ids echoed back in responses.
const maxRequestIDLen = 128

// RequestID assigns every request an id, taken from the context, then the
// X-Request-Id header, else a fresh uuid. The id is stored in the context
// and echoed in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := httputil.RequestID(r)
		if reqID == "" {
			reqID = r.Header.Get(RequestIDHeader)
		}
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), httputil.RequestIDCtxKey, reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
