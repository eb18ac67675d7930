package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careslot/careslot/internal/backup"
	"github.com/careslot/careslot/internal/config"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/middleware"
	"github.com/careslot/careslot/internal/services/accounts"
	availabilitysvc "github.com/careslot/careslot/internal/services/availability"
	"github.com/careslot/careslot/internal/services/booking"
	"github.com/careslot/careslot/internal/storage/memory"
	"github.com/careslot/careslot/internal/token"
	"github.com/careslot/careslot/internal/uow"
)

type nopDumper struct{}

func (nopDumper) Dump(context.Context) (string, error)    { return "/backups/test.sql", nil }
func (nopDumper) Restore(context.Context, string) error   { return nil }

type testAPI struct {
	handler http.Handler
	store   *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	log := logging.New("api-test", "error", "json")
	issuer, err := token.NewIssuer(config.AuthConfig{
		JWTSecret:        "api-test-secret",
		AccessTTLMinutes: 30,
		RefreshTTLDays:   7,
	})
	require.NoError(t, err)
	manager := uow.New(store, store, log, 0)

	gate := middleware.NewGate(issuer, log,
		middleware.WithAllowedPaths(AllowedPaths()...),
		middleware.WithRoleRules(RoleRules()...),
	)

	backupSvc := backup.NewService(nopDumper{}, manager, log)

	srv := New(Deps{
		Accounts:     accounts.New(store, manager, issuer, nil, log),
		Booking:      booking.New(store, manager, log),
		Availability: availabilitysvc.New(store, manager, log),
		Backup:       backupSvc,
		Audit:        store,
		Gate:         gate,
		Logger:       log,
	})
	return &testAPI{handler: srv.Handler(), store: store}
}

func (a *testAPI) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// registerAndLogin goes through the public endpoints, which only ever create
// patients.
func (a *testAPI) registerAndLogin(t *testing.T, email string) (string, string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":      email,
		"password":   "correct-horse",
		"first_name": "Test",
		"last_name":  "User",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created.ID, a.login(t, email)
}

// seedAndLogin provisions a doctor or admin directly in the store, the way
// out-of-band provisioning would, then logs in normally.
func (a *testAPI) seedAndLogin(t *testing.T, email string, role user.Role) (string, string) {
	t.Helper()
	hash, err := accounts.BcryptHasher{}.Hash("correct-horse")
	require.NoError(t, err)
	u, err := a.store.CreateUser(context.Background(), user.User{
		Email: email, PasswordHash: hash, Role: role, IsActive: true,
	})
	require.NoError(t, err)
	return u.ID, a.login(t, email)
}

func (a *testAPI) login(t *testing.T, email string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair.AccessToken
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/health/db", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/appointments/my", "/api/auth/me", "/api/doctors"} {
		rec := api.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)
	id, access := api.registerAndLogin(t, "alice@example.com")

	rec := api.do(t, http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	// Duplicate registration conflicts.
	rec = api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ALICE@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Bad credentials.
	rec = api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterCannotChooseRole(t *testing.T) {
	api := newTestAPI(t)

	// A role field in the request body is rejected outright.
	rec := api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "mallory@example.com",
		"password": "correct-horse",
		"role":     "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A normally registered account is a patient with no admin access.
	id, tok := api.registerAndLogin(t, "mallory@example.com")
	u, err := api.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, user.RolePatient, u.Role)

	rec = api.do(t, http.MethodPost, "/api/admin/backup", tok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenFormGrant(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "bob@example.com")

	form := url.Values{"username": {"bob@example.com"}, "password": {"correct-horse"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "access_token")
}

func TestRefreshEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "carol@example.com")

	rec := api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "carol@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))

	rec = api.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// An access token is the wrong kind.
	rec = api.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": pair.AccessToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	api := newTestAPI(t)
	doctorID, doctorTok := api.seedAndLogin(t, "doc@example.com", user.RoleDoctor)
	_, patientTok := api.registerAndLogin(t, "pat@example.com")
	_, rivalTok := api.registerAndLogin(t, "rival@example.com")

	input := map[string]string{
		"doctor_id":        doctorID,
		"appointment_date": "2030-09-01",
		"start_time":       "09:00",
		"end_time":         "09:30",
	}

	// Only patients book.
	rec := api.do(t, http.MethodPost, "/api/appointments", doctorTok, input)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/appointments", patientTok, input)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))

	// Same slot again conflicts.
	rec = api.do(t, http.MethodPost, "/api/appointments", rivalTok, input)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Listing.
	rec = api.do(t, http.MethodGet, "/api/appointments/my", patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), appt.ID)

	// A stranger cannot cancel.
	rec = api.do(t, http.MethodPut, "/api/appointments/"+appt.ID+"/cancel", rivalTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The patient can, and cancelling again is still 200.
	rec = api.do(t, http.MethodPut, "/api/appointments/"+appt.ID+"/cancel", patientTok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPut, "/api/appointments/"+appt.ID+"/cancel", patientTok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The freed slot can be rebooked.
	rec = api.do(t, http.MethodPost, "/api/appointments", rivalTok, input)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDoctorScheduleAccess(t *testing.T) {
	api := newTestAPI(t)
	doctorID, doctorTok := api.seedAndLogin(t, "doc@example.com", user.RoleDoctor)
	_, otherTok := api.seedAndLogin(t, "other@example.com", user.RoleDoctor)
	_, adminTok := api.seedAndLogin(t, "admin@example.com", user.RoleAdmin)

	path := "/api/appointments/doctor/" + doctorID
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, path, doctorTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, path, otherTok, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, path, adminTok, nil).Code)
}

func TestAvailabilityFlow(t *testing.T) {
	api := newTestAPI(t)
	doctorID, doctorTok := api.seedAndLogin(t, "doc@example.com", user.RoleDoctor)
	_, patientTok := api.registerAndLogin(t, "pat@example.com")

	rec := api.do(t, http.MethodPost, "/api/availability", doctorTok, map[string]string{
		"start_time": "2030-09-01T09:00:00Z",
		"end_time":   "2030-09-01T12:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var slot struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slot))

	// Patients cannot publish but can browse.
	rec = api.do(t, http.MethodPost, "/api/availability", patientTok, map[string]string{
		"start_time": "2030-09-01T09:00:00Z",
		"end_time":   "2030-09-01T12:00:00Z",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/availability/doctor/"+doctorID, patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), slot.ID)

	rec = api.do(t, http.MethodPut, "/api/availability/"+slot.ID, doctorTok, map[string]bool{
		"is_booked": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/availability/"+slot.ID, patientTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/availability/"+slot.ID, doctorTok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAvailabilityOwnershipGuard(t *testing.T) {
	api := newTestAPI(t)
	_, ownerTok := api.seedAndLogin(t, "owner@example.com", user.RoleDoctor)
	_, otherTok := api.seedAndLogin(t, "other@example.com", user.RoleDoctor)
	_, adminTok := api.seedAndLogin(t, "admin@example.com", user.RoleAdmin)

	rec := api.do(t, http.MethodPost, "/api/availability", ownerTok, map[string]string{
		"start_time": "2030-09-01T09:00:00Z",
		"end_time":   "2030-09-01T12:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var slot struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slot))

	update := map[string]bool{"is_booked": true}
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPut, "/api/availability/"+slot.ID, otherTok, update).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodPut, "/api/availability/"+slot.ID, adminTok, update).Code)

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodDelete, "/api/availability/"+slot.ID, otherTok, nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/api/availability/"+slot.ID, adminTok, nil).Code)
}

func TestDirectoryRBAC(t *testing.T) {
	api := newTestAPI(t)
	_, patientTok := api.registerAndLogin(t, "pat@example.com")
	_, doctorTok := api.seedAndLogin(t, "doc@example.com", user.RoleDoctor)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/doctors", patientTok, nil).Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/patients", patientTok, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/patients", doctorTok, nil).Code)
}

func TestAdminSurface(t *testing.T) {
	api := newTestAPI(t)
	_, patientTok := api.registerAndLogin(t, "pat@example.com")
	_, adminTok := api.seedAndLogin(t, "admin@example.com", user.RoleAdmin)

	// Role gate: 403 for non-admins, 401 unauthenticated.
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, "/api/admin/backup", patientTok, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/api/admin/backup", "", nil).Code)

	rec := api.do(t, http.MethodPost, "/api/admin/backup", adminTok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "/backups/test.sql")

	rec = api.do(t, http.MethodPost, "/api/admin/restore", adminTok, map[string]string{"path": "/backups/test.sql"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The audit trail shows the whole session.
	rec = api.do(t, http.MethodGet, "/api/admin/audit", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, action := range []string{"register COMMIT", "login COMMIT", "backup COMMIT", "restore COMMIT"} {
		assert.Contains(t, body, action)
	}
}

func TestValidationErrorsRejected(t *testing.T) {
	api := newTestAPI(t)
	doctorID, _ := api.seedAndLogin(t, "doc@example.com", user.RoleDoctor)
	_, patientTok := api.registerAndLogin(t, "pat@example.com")

	rec := api.do(t, http.MethodPost, "/api/appointments", patientTok, map[string]string{
		"doctor_id":        doctorID,
		"appointment_date": "2030-09-01",
		"start_time":       "10:00",
		"end_time":         "09:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	// Unknown fields are rejected.
	rec = api.do(t, http.MethodPost, "/api/appointments", patientTok, map[string]string{
		"doctor_id": doctorID,
		"surprise":  "field",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceIDPropagates(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestCancelUnknownAppointment(t *testing.T) {
	api := newTestAPI(t)
	_, tok := api.registerAndLogin(t, "pat@example.com")

	rec := api.do(t, http.MethodPut, fmt.Sprintf("/api/appointments/%s/cancel", "no-such-id"), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
