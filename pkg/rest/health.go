package rest

import (
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

// Health is the body of the health check. Connection details are present
// only on success.
type Health struct {
	Status   string            `json:"Status"`
	Detail   string            `json:"Detail"`
	Host     string            `json:"Host,omitempty"`
	Database string            `json:"Database,omitempty"`
	Query    map[string]string `json:"Query,omitempty"`
}

// health runs SELECT 1 on a pooled connection. It always answers 200 and
// reports failure in the body.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.Exec(r.Context(), "SELECT 1"); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		httputil.JSON(w, http.StatusOK, Health{Status: "Failed", Detail: err.Error()})
		return
	}

	httputil.JSON(w, http.StatusOK, Health{
		Status:   "Success",
		Detail:   "Connection to database is successful",
		Host:     s.info.Host,
		Database: s.info.Database,
		Query:    s.info.Query,
	})
}
