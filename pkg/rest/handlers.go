package rest

import (
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/query"
)

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	tx, err := httputil.Session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	table := r.PathValue("table")
	t, err := s.svc.Table(table)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	d, err := query.FromURL(r.URL.Query()).Parse(t, s.limits)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.RetrieveMany(r.Context(), tx, table, d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	tx, err := httputil.Session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	table := r.PathValue("table")
	t, err := s.svc.Table(table)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// paging, ordering and grouping do not apply to a single row
	full := query.FromURL(r.URL.Query())
	raw := query.Raw{
		Column:      full.Column,
		FilterBy:    full.FilterBy,
		FilterValue: full.FilterValue,
		Verbose:     full.Verbose,
	}
	d, err := raw.Parse(t, s.limits)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.RetrieveOne(r.Context(), tx, table, r.PathValue("index"), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res.One())
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	tx, err := httputil.Session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var payload map[string]any
	if err := httputil.BindOrError(r, w, &payload); err != nil {
		return
	}

	row, err := s.svc.Create(r.Context(), tx, r.PathValue("table"), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, row)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	tx, err := httputil.Session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var payload map[string]any
	if err := httputil.BindOrError(r, w, &payload); err != nil {
		return
	}

	row, err := s.svc.Update(r.Context(), tx, r.PathValue("table"), r.PathValue("index"), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, row)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	tx, err := httputil.Session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	row, err := s.svc.Delete(r.Context(), tx, r.PathValue("table"), r.PathValue("index"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, row)
}
