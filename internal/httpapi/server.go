// Package httpapi exposes the REST API: route wiring, the middleware chain
// and the request handlers.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/careslot/careslot/internal/backup"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/httputil"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/metrics"
	"github.com/careslot/careslot/internal/middleware"
	"github.com/careslot/careslot/internal/services/accounts"
	availabilitysvc "github.com/careslot/careslot/internal/services/availability"
	"github.com/careslot/careslot/internal/services/booking"
	"github.com/careslot/careslot/internal/storage"
)

// Deps bundles everything the API needs.
type Deps struct {
	Accounts     *accounts.Service
	Booking      *booking.Service
	Availability *availabilitysvc.Service
	Backup       *backup.Service
	Audit        storage.AuditStore
	Gate         *middleware.Gate
	RateLimiter  *middleware.RateLimiter
	Logger       *logging.Logger
	DB           *sqlx.DB
}

// Server is the HTTP API.
type Server struct {
	deps Deps
}

// New constructs the Server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// AllowedPaths lists the endpoints that never require authentication.
func AllowedPaths() []string {
	return []string{
		"/health",
		"/health/db",
		"/metrics",
		"/api/auth/register",
		"/api/auth/login",
		"/api/auth/token",
		"/api/auth/refresh",
	}
}

// RoleRules lists the path-prefix role requirements enforced by the gate.
func RoleRules() []middleware.RoleRule {
	return []middleware.RoleRule{
		{Prefix: "/api/admin/", Roles: []user.Role{user.RoleAdmin}},
		{Prefix: "/api/patients", Roles: []user.Role{user.RoleDoctor, user.RoleAdmin}},
	}
}

// Handler assembles the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router()
	h = s.deps.Gate.Handler(h)
	if s.deps.RateLimiter != nil {
		h = s.deps.RateLimiter.Handler(h)
	}
	h = metrics.InstrumentHandler(h)
	h = middleware.NewCORS([]string{"*"}).Handler(h)
	h = middleware.NewTracing(s.deps.Logger).Handler(h)
	return h
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/health/db", s.healthDB).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)
	auth.HandleFunc("/token", s.tokenForm).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/me", s.me).Methods(http.MethodGet)

	appts := r.PathPrefix("/api/appointments").Subrouter()
	appts.HandleFunc("", s.createAppointment).Methods(http.MethodPost)
	appts.HandleFunc("/my", s.listMyAppointments).Methods(http.MethodGet)
	appts.HandleFunc("/{id}/cancel", s.cancelAppointment).Methods(http.MethodPut)
	appts.Handle("/doctor/{id}",
		middleware.RequireOwnerOrAdmin(selfOwner, "id")(http.HandlerFunc(s.listDoctorAppointments)),
	).Methods(http.MethodGet)

	avail := r.PathPrefix("/api/availability").Subrouter()
	avail.HandleFunc("", s.createSlot).Methods(http.MethodPost)
	avail.HandleFunc("/doctor/{id}", s.listDoctorSlots).Methods(http.MethodGet)
	slotOwner := middleware.RequireOwnerOrAdmin(s.deps.Availability.Owner, "id")
	avail.Handle("/{id}", slotOwner(http.HandlerFunc(s.updateSlot))).Methods(http.MethodPut)
	avail.Handle("/{id}", slotOwner(http.HandlerFunc(s.deleteSlot))).Methods(http.MethodDelete)

	r.HandleFunc("/api/doctors", s.listDoctors).Methods(http.MethodGet)
	r.HandleFunc("/api/patients", s.listPatients).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/backup", s.runBackup).Methods(http.MethodPost)
	admin.HandleFunc("/restore", s.runRestore).Methods(http.MethodPost)
	admin.HandleFunc("/audit", s.listAudit).Methods(http.MethodGet)

	return r
}

// selfOwner treats the doctor id in the path as its own owner, giving the
// doctor-self-or-admin rule.
func selfOwner(_ context.Context, resourceID string) (string, error) {
	return resourceID, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) healthDB(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "none"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.DB.PingContext(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// actor returns the authenticated acting user, or writes a 401.
func actor(w http.ResponseWriter, r *http.Request) (user.Ref, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httputil.Unauthorized(w, "")
		return user.Ref{}, false
	}
	return id.Ref(), true
}

func parsePage(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
