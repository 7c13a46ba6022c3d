package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions defines configuration for CORS.
type CORSOptions struct {
	AllowedOrigins   []string `mapstructure:"allowedOrigins"`
	AllowedMethods   []string `mapstructure:"allowedMethods"`
	AllowedHeaders   []string `mapstructure:"allowedHeaders"`
	AllowCredentials bool     `mapstructure:"allowCredentials"`
	MaxAge           int      `mapstructure:"maxAge"`
}

// DefaultCORSOptions returns the default CORS options.
func DefaultCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin", "Cache-Control", "X-Requested-With", RequestIDHeader},
	}
}

// CORSWithOptions creates a CORS middleware with the provided configuration.
// If options is nil, it will use the default CORS settings. A request origin
// found in AllowedOrigins is echoed back; "*" allows any origin, and is
// echoed as the concrete origin when credentials are allowed.
func CORSWithOptions(options *CORSOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = DefaultCORSOptions()
	}
	anyOrigin := slices.Contains(options.AllowedOrigins, "*")
	methods := strings.Join(options.AllowedMethods, ",")
	headers := strings.Join(options.AllowedHeaders, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			switch {
			case origin == "":
			case anyOrigin && !options.AllowCredentials:
				h.Set("Access-Control-Allow-Origin", "*")
			case anyOrigin || slices.Contains(options.AllowedOrigins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if h.Get("Access-Control-Allow-Origin") != "" {
				if methods != "" {
					h.Set("Access-Control-Allow-Methods", methods)
				}
				if headers != "" {
					h.Set("Access-Control-Allow-Headers", headers)
				}
				if options.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if options.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(options.MaxAge))
				}
			}

			// Handle preflight request
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
