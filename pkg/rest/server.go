package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Database is the connection pool of one environment. *pgxpool.Pool
// satisfies it.
type Database interface {
	pg.TxStarter
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Server serves one environment: its health check, its OpenAPI document and,
// when enabled, the CRUD routes over the registry of svc.
type Server struct {
	name   string
	prefix string
	crud   bool
	svc    *crud.Service
	db     Database
	info   pg.Info
	limits query.Limits
	logger *zap.Logger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCRUD mounts the table routes.
func WithCRUD(enabled bool) Option {
	return func(s *Server) { s.crud = enabled }
}

// WithLimits sets the default and maximum page size of list routes.
func WithLimits(limits query.Limits) Option {
	return func(s *Server) { s.limits = limits }
}

// WithInfo sets the connection details reported by the health check.
func WithInfo(info pg.Info) Option {
	return func(s *Server) { s.info = info }
}

// NewServer returns the server of environment name, mounted under prefix.
func NewServer(name, prefix string, svc *crud.Service, db Database, opts ...Option) *Server {
	s := &Server{
		name:   name,
		prefix: "/" + strings.Trim(prefix, "/"),
		svc:    svc,
		db:     db,
		limits: query.DefaultLimits,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prefix == "/" {
		s.prefix = ""
	}
	s.logger = s.logger.With(zap.String("env", name))
	return s
}

func (s *Server) Name() string   { return s.name }
func (s *Server) Prefix() string { return s.prefix }

// Register mounts the environment's routes on r.
func (s *Server) Register(r *httputil.Router) {
	g := r.Group(s.prefix)
	g.Use(middleware.Env(s.name))

	g.Handle("GET /health-check", http.HandlerFunc(s.health))
	g.Handle("GET /openapi.json", http.HandlerFunc(s.openAPI))

	if !s.crud {
		s.logger.Info("mounted environment", zap.String("prefix", s.prefix), zap.Bool("crud", false))
		return
	}

	tx := g.Group("")
	tx.Use(middleware.Session(s.db))
	tx.Handle("GET /{table}/list", http.HandlerFunc(s.list))
	tx.Handle("GET /{table}/{index}", http.HandlerFunc(s.get))
	tx.Handle("POST /{table}", http.HandlerFunc(s.create))
	tx.Handle("PUT /{table}/{index}", http.HandlerFunc(s.update))
	tx.Handle("DELETE /{table}/{index}", http.HandlerFunc(s.delete))

	s.logger.Info("mounted environment",
		zap.String("prefix", s.prefix),
		zap.Bool("crud", true),
		zap.Int("tables", s.svc.Registry().Len()))
}
