package httputil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/edgeflare/pgcrud/pkg/util"
	"go.uber.org/zap"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	logger     *zap.Logger
	prefix     string
	middleware []Middleware
	tlsErr     error
	mu         sync.RWMutex
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLogger sets the logger used for server lifecycle messages.
func WithLogger(logger *zap.Logger) RouterOptions {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// WithTLS serves HTTPS with the key pair at certFile and keyFile. Missing
// files are replaced by a self-signed certificate for hosts, written to the
// same paths. Errors are reported by ListenAndServe.
func WithTLS(certFile, keyFile string, hosts ...string) RouterOptions {
	return func(r *Router) {
		if certFile == "" || keyFile == "" {
			certFile, keyFile = "./tls/tls.crt", "./tls/tls.key"
		}
		cert, err := util.LoadOrGenerateCert(certFile, keyFile, hosts...)
		if err != nil {
			r.tlsErr = fmt.Errorf("load TLS certificate: %w", err)
			return
		}
		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a new sub-router with a specified prefix. The sub-router inherits the middleware
// from its parent router.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Router{
		mux:        r.mux,
		middleware: slices.Clone(r.middleware),
		server:     r.server,
		logger:     r.logger,
		prefix:     r.prefix + prefix,
	}
}

// Handle registers handler for a "METHOD /pattern" route as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements).
// On a group with prefix /p the route resolves to "METHOD /p/pattern". The
// group's middleware wraps handler. It panics on a pattern without a method.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok {
		panic("httputil: invalid method pattern: " + methodPattern)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	final := handler
	for i := len(r.middleware) - 1; i >= 0; i-- {
		final = r.middleware[i](final)
	}
	r.mux.Handle(method+" "+r.prefix+pattern, final)
}

// Handler returns the root handler: the mux wrapped in the root router's
// middleware.
func (r *Router) Handler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handler http.Handler = r.mux
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	return handler
}

// ListenAndServe serves on addr, over HTTPS when WithTLS was given.
func (r *Router) ListenAndServe(addr string) error {
	if r.tlsErr != nil {
		return r.tlsErr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (r *Router) Serve(ln net.Listener) error {
	r.server.Addr = ln.Addr().String()
	r.server.Handler = r.Handler()

	if r.server.TLSConfig != nil {
		r.logger.Info("starting server", zap.String("addr", r.server.Addr), zap.Bool("tls", true))
		return r.server.ServeTLS(ln, "", "")
	}
	r.logger.Info("starting server", zap.String("addr", r.server.Addr), zap.Bool("tls", false))
	return r.server.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down server")
	if err := r.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
