package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/careslot/careslot/internal/httputil"
	"github.com/careslot/careslot/internal/services/booking"
)

func (s *Server) createAppointment(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	var in booking.CreateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := s.deps.Booking.Create(r.Context(), ref, in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, appt)
}

func (s *Server) listMyAppointments(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := parsePage(r)
	page, err := s.deps.Booking.ListMine(r.Context(), ref, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	appt, err := s.deps.Booking.Cancel(r.Context(), ref, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

func (s *Server) listDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	limit, offset := parsePage(r)
	page, err := s.deps.Booking.ListForDoctor(r.Context(), ref, mux.Vars(r)["id"], limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}
