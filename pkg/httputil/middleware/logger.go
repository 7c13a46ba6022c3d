package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseRecorder is a wrapper for http.ResponseWriter to capture status codes and durations.
type ResponseRecorder struct {
	start time.Time
	http.ResponseWriter
	StatusCode  int
	wroteHeader bool
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
		start:          time.Now(),
	}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	if !rr.wroteHeader {
		rr.StatusCode = statusCode
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	return rr.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

func defaultFormat(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("req_id", reqID),
		zap.String("env", httputil.Env(r)),
		zap.Int("status", rec.StatusCode),
		zap.String("method", r.Method),
		zap.String("host", r.Host),
		zap.String("url", r.URL.String()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Duration("latency", latency),
	}
}

// LoggerWithOptions logs one "response" line per request and places a logger
// tagged with the request id in the context for handlers (httputil.Logger).
// Nested loggers are skipped.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	opts := LoggerOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Format == nil {
		opts.Format = defaultFormat
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Value(httputil.LogEntryCtxKey).(*zap.Logger); ok {
				next.ServeHTTP(w, r)
				return
			}

			reqID := httputil.RequestID(r)
			if reqID == "" {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			reqLogger := opts.Logger.With(zap.String("req_id", reqID))
			r = r.WithContext(context.WithValue(r.Context(), httputil.LogEntryCtxKey, reqLogger))

			next.ServeHTTP(rec, r)

			opts.Logger.Info("response", opts.Format(reqID, rec, r, time.Since(rec.start))...)
		})
	}
}
