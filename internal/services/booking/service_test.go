package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careslot/careslot/internal/domain/appointment"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/storage/memory"
	"github.com/careslot/careslot/internal/uow"
)

var testNow = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logging.New("booking-test", "error", "json")
	svc := New(store, uow.New(store, store, log, 0), log)
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func seedUser(t *testing.T, store *memory.Store, email string, role user.Role) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{
		Email: email, Role: role, IsActive: true,
	})
	require.NoError(t, err)
	return u
}

func validInput(doctorID string) CreateInput {
	return CreateInput{
		DoctorID: doctorID,
		Date:     "2026-09-01",
		Start:    "09:00",
		End:      "09:30",
	}
}

func TestCreateBooksForSelf(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)

	appt, err := svc.Create(context.Background(), user.Ref{ID: patient.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.NoError(t, err)
	assert.Equal(t, patient.ID, appt.PatientID)
	assert.Equal(t, doctor.ID, appt.DoctorID)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)

	entries, err := store.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "book_appointment COMMIT", entries[0].Action)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, patient.ID, *entries[0].ActorID)
}

func TestCreateConflictOnOccupiedSlot(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	p1 := seedUser(t, store, "p1@example.com", user.RolePatient)
	p2 := seedUser(t, store, "p2@example.com", user.RolePatient)

	_, err := svc.Create(context.Background(), user.Ref{ID: p1.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), user.Ref{ID: p2.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.True(t, errors.IsConflict(err))

	// The failed booking rolled back and was audited.
	entries, lerr := store.ListAudit(context.Background(), 10)
	require.NoError(t, lerr)
	require.Len(t, entries, 2)
	assert.Equal(t, "book_appointment ROLLBACK", entries[1].Action)
}

func TestCreateCancelledSlotIsRebookable(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	p1 := seedUser(t, store, "p1@example.com", user.RolePatient)
	p2 := seedUser(t, store, "p2@example.com", user.RolePatient)

	first, err := svc.Create(context.Background(), user.Ref{ID: p1.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), user.Ref{ID: p1.ID, Role: user.RolePatient}, first.ID)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), user.Ref{ID: p2.ID, Role: user.RolePatient}, validInput(doctor.ID))
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)
	actor := user.Ref{ID: patient.ID, Role: user.RolePatient}
	ctx := context.Background()

	for name, in := range map[string]CreateInput{
		"missing doctor":  {Date: "2026-09-01", Start: "09:00", End: "09:30"},
		"bad date":        {DoctorID: doctor.ID, Date: "01/09/2026", Start: "09:00", End: "09:30"},
		"bad time":        {DoctorID: doctor.ID, Date: "2026-09-01", Start: "9:00", End: "09:30"},
		"start after end": {DoctorID: doctor.ID, Date: "2026-09-01", Start: "10:00", End: "09:30"},
		"in the past":     {DoctorID: doctor.ID, Date: "2026-08-01", Start: "09:00", End: "09:30"},
		"earlier today":   {DoctorID: doctor.ID, Date: "2026-08-27", Start: "08:00", End: "08:30"},
	} {
		_, err := svc.Create(ctx, actor, in)
		assert.True(t, errors.IsCode(err, errors.CodeValidation), name)
	}
}

func TestCreateRequiresRealDoctor(t *testing.T) {
	svc, store := newService(t)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)
	other := seedUser(t, store, "other@example.com", user.RolePatient)
	actor := user.Ref{ID: patient.ID, Role: user.RolePatient}

	_, err := svc.Create(context.Background(), actor, validInput("no-such-id"))
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.Create(context.Background(), actor, validInput(other.ID))
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestCreateRequiresPatientRole(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	other := seedUser(t, store, "other@example.com", user.RoleDoctor)
	admin := seedUser(t, store, "admin@example.com", user.RoleAdmin)

	_, err := svc.Create(context.Background(), user.Ref{ID: other.ID, Role: user.RoleDoctor}, validInput(doctor.ID))
	assert.True(t, errors.IsForbidden(err))

	_, err = svc.Create(context.Background(), user.Ref{ID: admin.ID, Role: user.RoleAdmin}, validInput(doctor.ID))
	assert.True(t, errors.IsForbidden(err))

	// Nothing was written for either attempt.
	items, total, err := store.ListAppointments(context.Background(), "", "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
}

func TestCreateConcurrentSameSlot(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	p1 := seedUser(t, store, "p1@example.com", user.RolePatient)
	p2 := seedUser(t, store, "p2@example.com", user.RolePatient)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, p := range []user.User{p1, p2} {
		go func(i int, actorID string) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, user.Ref{ID: actorID, Role: user.RolePatient}, validInput(doctor.ID))
		}(i, p.ID)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	_, total, err := store.ListAppointments(ctx, "", doctor.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCancelIdempotentAndGuarded(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)
	stranger := seedUser(t, store, "stranger@example.com", user.RolePatient)
	ctx := context.Background()

	appt, err := svc.Create(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, user.Ref{ID: stranger.ID, Role: user.RolePatient}, appt.ID)
	assert.True(t, errors.IsForbidden(err))

	cancelled, err := svc.Cancel(ctx, user.Ref{ID: doctor.ID, Role: user.RoleDoctor}, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	// Second cancel is a no-op, not an error.
	again, err := svc.Cancel(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, again.Status)

	_, err = svc.Cancel(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, "no-such-id")
	assert.True(t, errors.IsNotFound(err))
}

func TestCancelCompletedIsConflict(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)
	ctx := context.Background()

	appt, err := svc.Create(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.NoError(t, err)
	_, err = store.UpdateAppointmentStatus(ctx, appt.ID, appointment.StatusCompleted)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, appt.ID)
	assert.True(t, errors.IsConflict(err))
}

func TestListMinePerspectives(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)
	ctx := context.Background()

	for _, start := range []string{"09:00", "10:00", "11:00"} {
		in := validInput(doctor.ID)
		in.Start, in.End = start, "12:00"
		_, err := svc.Create(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, in)
		require.NoError(t, err)
	}

	page, err := svc.ListMine(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasNext)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "11:00", page.Items[0].Start, "newest first")

	docPage, err := svc.ListMine(ctx, user.Ref{ID: doctor.ID, Role: user.RoleDoctor}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, docPage.Total)
}

func TestListForDoctorAuthz(t *testing.T) {
	svc, store := newService(t)
	doctor := seedUser(t, store, "doc@example.com", user.RoleDoctor)
	other := seedUser(t, store, "other@example.com", user.RoleDoctor)
	admin := seedUser(t, store, "admin@example.com", user.RoleAdmin)
	patient := seedUser(t, store, "pat@example.com", user.RolePatient)
	ctx := context.Background()

	_, err := svc.Create(ctx, user.Ref{ID: patient.ID, Role: user.RolePatient}, validInput(doctor.ID))
	require.NoError(t, err)

	_, err = svc.ListForDoctor(ctx, user.Ref{ID: other.ID, Role: user.RoleDoctor}, doctor.ID, 10, 0)
	assert.True(t, errors.IsForbidden(err))

	page, err := svc.ListForDoctor(ctx, user.Ref{ID: doctor.ID, Role: user.RoleDoctor}, doctor.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = svc.ListForDoctor(ctx, user.Ref{ID: admin.ID, Role: user.RoleAdmin}, doctor.ID, 10, 0)
	assert.NoError(t, err)
}

func TestCompletePastSweep(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	// Seed directly so past slots can exist.
	_, err := store.CreateAppointment(ctx, appointment.Appointment{
		PatientID: "p1", DoctorID: "d1",
		Date:  time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
		Start: "09:00", End: "09:30",
	})
	require.NoError(t, err)
	future, err := store.CreateAppointment(ctx, appointment.Appointment{
		PatientID: "p1", DoctorID: "d2",
		Date:  time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
		Start: "17:00", End: "17:30",
	})
	require.NoError(t, err)

	n, err := svc.CompletePast(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetAppointment(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, got.Status)

	entries, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "complete_past_appointments COMMIT", entries[0].Action)
	assert.Nil(t, entries[0].ActorID)
}
