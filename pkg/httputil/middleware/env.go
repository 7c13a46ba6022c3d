package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
)

// Env tags requests with the name of the environment whose routes serve
// them. Logs, metrics and change events read it back via httputil.Env.
func Env(name string) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), httputil.EnvCtxKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EnvByPrefix tags requests with the environment whose route prefix matches
// the request path. The longest matching prefix wins. It lets root-level
// middleware, which runs before any environment group, see the environment.
func EnvByPrefix(prefixes map[string]string) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var match, name string
			for prefix, env := range prefixes {
				if len(prefix) <= len(match) {
					continue
				}
				if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
					match, name = prefix, env
				}
			}
			if name == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), httputil.EnvCtxKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
