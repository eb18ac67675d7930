package httpapi

import (
	"net/http"

	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/httputil"
	"github.com/careslot/careslot/internal/services/accounts"
)

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in accounts.RegisterInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := s.deps.Accounts.Register(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	pair, err := s.deps.Accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// tokenForm is the form-encoded variant of login, for OAuth2-style password
// grant clients.
func (s *Server) tokenForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, errors.Validation("invalid form body"))
		return
	}
	pair, err := s.deps.Accounts.Login(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	pair, err := s.deps.Accounts.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	u, err := s.deps.Accounts.Me(r.Context(), ref.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) listDoctors(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	limit, offset := parsePage(r)
	page, err := s.deps.Accounts.ListDoctors(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) listPatients(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := parsePage(r)
	page, err := s.deps.Accounts.ListPatients(r.Context(), ref, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}
