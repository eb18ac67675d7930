package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	domain "github.com/careslot/careslot/internal/domain/availability"
	"github.com/careslot/careslot/internal/httputil"
	availabilitysvc "github.com/careslot/careslot/internal/services/availability"
)

func (s *Server) createSlot(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	var in availabilitysvc.CreateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	slot, err := s.deps.Availability.Create(r.Context(), ref, in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, slot)
}

func (s *Server) listDoctorSlots(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	slots, err := s.deps.Availability.ListForDoctor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slots)
}

func (s *Server) updateSlot(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	var upd domain.Update
	if err := httputil.DecodeJSON(r, &upd); err != nil {
		httputil.WriteError(w, err)
		return
	}
	slot, err := s.deps.Availability.Update(r.Context(), ref, mux.Vars(r)["id"], upd)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, slot)
}

func (s *Server) deleteSlot(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.deps.Availability.Delete(r.Context(), ref, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
