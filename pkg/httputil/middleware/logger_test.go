package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestLoggerWithOptions(t *testing.T) {
	logger, logs := newTestLogger()
	mw := LoggerWithOptions(&LoggerOptions{
		Logger: logger,
		Format: func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
			return []zap.Field{zap.String("test", "log")}
		},
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "response", logs.All()[0].Message)
	assert.Equal(t, "log", logs.All()[0].ContextMap()["test"])
}

func TestLoggerDefaultFields(t *testing.T) {
	logger, logs := newTestLogger()
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}), Env("prod"), LoggerWithOptions(&LoggerOptions{Logger: logger}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "http://example.com/api/orders", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, "prod", fields["env"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, uuid.Nil.String(), fields["req_id"])
}

func TestLoggerPlacesRequestLogger(t *testing.T) {
	logger, logs := newTestLogger()
	reqID := uuid.New().String()

	handler := LoggerWithOptions(&LoggerOptions{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.Logger(r).Info("inside")
	}))
	req := httptest.NewRequest(http.MethodGet, "/foo", nil)
	req = req.WithContext(context.WithValue(req.Context(), httputil.RequestIDCtxKey, reqID))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "inside", logs.All()[0].Message)
	assert.Equal(t, reqID, logs.All()[0].ContextMap()["req_id"])
	assert.Equal(t, reqID, logs.All()[1].ContextMap()["req_id"])
}

func TestLoggerSkipsNested(t *testing.T) {
	logger, logs := newTestLogger()
	mw := LoggerWithOptions(&LoggerOptions{Logger: logger})
	handler := mw(mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/foo", nil))
	assert.Equal(t, 1, logs.Len())
}

func TestLoggerNilOptions(t *testing.T) {
	handler := LoggerWithOptions(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/foo", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
