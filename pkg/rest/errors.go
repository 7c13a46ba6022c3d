package rest

import (
	"errors"
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"go.uber.org/zap"
)

// statuses is checked in order; the first match wins. Payload validation
// wraps ErrUnknownColumn too, so it comes first.
var statuses = []struct {
	err    error
	status int
}{
	{crud.ErrValidation, http.StatusUnprocessableEntity},
	{registry.ErrUnknownTable, http.StatusNotFound},
	{registry.ErrUnknownColumn, http.StatusNotFound},
	{crud.ErrNotFound, http.StatusNotFound},
	{crud.ErrAmbiguousMatch, http.StatusConflict},
	{crud.ErrConstraintViolation, http.StatusConflict},
	{crud.ErrDatabaseUnavailable, http.StatusServiceUnavailable},
	{crud.ErrReferencedRowMissing, http.StatusInternalServerError},
	{crud.ErrAmbiguousReference, http.StatusInternalServerError},
	{crud.ErrCyclicReference, http.StatusInternalServerError},
	{registry.ErrInvalidForeignKey, http.StatusInternalServerError},
	{registry.ErrUnknownVariant, http.StatusInternalServerError},
}

// statusOf maps an operation error to its HTTP status. Query parameter
// errors, unknown columns included, are 400.
func statusOf(err error) int {
	var qerr *query.Error
	if errors.As(err, &qerr) {
		return http.StatusBadRequest
	}
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Server-side failures are logged and
// answered with the status text only.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status < http.StatusInternalServerError {
		httputil.Error(w, status, err.Error())
		return
	}

	httputil.Logger(r).Error("request failed",
		zap.String("env", s.name),
		zap.String("table", r.PathValue("table")),
		zap.Int("status", status),
		zap.Error(err))
	msg := http.StatusText(status)
	if status == http.StatusServiceUnavailable {
		msg = crud.ErrDatabaseUnavailable.Error()
	}
	httputil.Error(w, status, msg)
}
