package middleware

import (
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"go.uber.org/zap"
)

// Session opens one transaction per request on db and stores it in the
// request context (httputil.Session). Work the handler did not commit is
// rolled back when the handler returns, releasing the pooled connection.
// A transaction that cannot be started yields 503.
func Session(db pg.TxStarter) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := pg.BeginSession(r.Context(), db)
			if err != nil {
				httputil.Logger(r).Error("begin session", zap.Error(err))
				httputil.Error(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
			defer func() {
				if err := s.End(r.Context()); err != nil {
					httputil.Logger(r).Warn("end session", zap.Error(err))
				}
			}()

			next.ServeHTTP(w, r.WithContext(httputil.WithSession(r.Context(), s)))
		})
	}
}
