package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	echo := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httputil.RequestID(r)))
	}))

	t.Run("generates a uuid when none is given", func(t *testing.T) {
		w := httptest.NewRecorder()
		echo.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/foo", nil))

		_, err := uuid.Parse(w.Body.String())
		assert.NoError(t, err)
		assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	})

	t.Run("preserves an id already in the context", func(t *testing.T) {
		existing := uuid.New().String()
		ctx := context.WithValue(context.Background(), httputil.RequestIDCtxKey, existing)
		w := httptest.NewRecorder()
		echo.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/foo", nil).WithContext(ctx))

		assert.Equal(t, existing, w.Body.String())
		assert.Equal(t, existing, w.Header().Get(RequestIDHeader))
	})

	t.Run("honours the request header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/foo", nil)
		req.Header.Set(RequestIDHeader, "upstream-42")
		w := httptest.NewRecorder()
		echo.ServeHTTP(w, req)

		assert.Equal(t, "upstream-42", w.Body.String())
	})

	t.Run("replaces an oversized header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/foo", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
		w := httptest.NewRecorder()
		echo.ServeHTTP(w, req)

		_, err := uuid.Parse(w.Body.String())
		assert.NoError(t, err)
	})

	t.Run("distinct requests get distinct ids", func(t *testing.T) {
		w1, w2 := httptest.NewRecorder(), httptest.NewRecorder()
		echo.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/foo1", nil))
		echo.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/foo2", nil))
		assert.NotEqual(t, w1.Body.String(), w2.Body.String())
	})
}

func TestEnv(t *testing.T) {
	h := Env("dev")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httputil.Env(r)))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "dev", w.Body.String())
}

func TestEnvByPrefix(t *testing.T) {
	h := EnvByPrefix(map[string]string{
		"/api":     "prod",
		"/api-dev": "dev",
		"/api/v2":  "next",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httputil.Env(r)))
	}))

	tests := []struct {
		path string
		want string
	}{
		{"/api", "prod"},
		{"/api/customers/list", "prod"},
		{"/api-dev/customers/1", "dev"},
		{"/api/v2/orders", "next"},
		{"/apix", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) httputil.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
