package httpapi

import (
	"net/http"
	"strconv"

	"github.com/careslot/careslot/internal/httputil"
)

func (s *Server) runBackup(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Backup.Run(r.Context(), ref.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (s *Server) runRestore(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		Path string `json:"path"`
	}
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.deps.Backup.Restore(r.Context(), ref.ID, in.Path); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "restored", "path": in.Path})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.deps.Audit.ListAudit(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
