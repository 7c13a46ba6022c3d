package httputil

import (
	"context"
	"errors"
	"net/http"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
)

// ErrNoSession is returned when a handler that needs a database session runs
// without the session middleware.
var ErrNoSession = errors.New("no database session in request context")

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *pg.Session) context.Context {
	return context.WithValue(ctx, SessionCtxKey, s)
}

// Session returns the request-scoped transaction opened by the session
// middleware.
func Session(r *http.Request) (*pg.Session, error) {
	s, ok := r.Context().Value(SessionCtxKey).(*pg.Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}
