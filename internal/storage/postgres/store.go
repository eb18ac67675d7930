// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/careslot/careslot/internal/domain/appointment"
	"github.com/careslot/careslot/internal/domain/audit"
	"github.com/careslot/careslot/internal/domain/availability"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/storage"
)

const uniqueViolation = "23505"

// Store implements the full storage backend on a PostgreSQL pool. Outside a
// transaction its session methods run in auto-commit mode; RunTx hands fn a
// session bound to a single transaction.
type Store struct {
	db *sqlx.DB
	session
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, session: session{q: db}}
}

// RunTx executes fn inside one transaction, committing when fn returns nil
// and rolling back otherwise. A unique constraint violation raised at commit
// surfaces as a conflict, same as one raised mid-transaction.
func (s *Store) RunTx(ctx context.Context, fn func(context.Context, storage.Session) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Internal("begin transaction", err)
	}

	if err := fn(ctx, &session{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err, "transaction")
	}
	return nil
}

// session issues queries against either the pool or one transaction.
type session struct {
	q sqlx.ExtContext
}

var _ storage.Session = (*session)(nil)

func mapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Conflict(resource + " already exists")
	}
	return err
}

// --- UserStore --------------------------------------------------------------

func (se *session) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := se.q.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, first_name, last_name, phone, is_active, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName, u.Phone, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return user.User{}, errors.Conflict("email already registered")
		}
		return user.User{}, err
	}
	u.Email = strings.ToLower(u.Email)
	return u, nil
}

func (se *session) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := sqlx.GetContext(ctx, se.q, &u, `
		SELECT id, email, password_hash, role, first_name, last_name, phone, is_active, created_at, updated_at
		FROM users
		WHERE id::text = $1
	`, id)
	if err != nil {
		return user.User{}, mapError(err, "user")
	}
	return u, nil
}

func (se *session) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := sqlx.GetContext(ctx, se.q, &u, `
		SELECT id, email, password_hash, role, first_name, last_name, phone, is_active, created_at, updated_at
		FROM users
		WHERE email = lower($1)
	`, email)
	if err != nil {
		return user.User{}, mapError(err, "user")
	}
	return u, nil
}

func (se *session) ListUsersByRole(ctx context.Context, role user.Role, limit, offset int) ([]user.User, int, error) {
	var total int
	err := sqlx.GetContext(ctx, se.q, &total, `
		SELECT count(*) FROM users WHERE role = $1
	`, role)
	if err != nil {
		return nil, 0, err
	}

	var items []user.User
	err = sqlx.SelectContext(ctx, se.q, &items, `
		SELECT id, email, password_hash, role, first_name, last_name, phone, is_active, created_at, updated_at
		FROM users
		WHERE role = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// --- AppointmentStore -------------------------------------------------------

const appointmentColumns = `id, patient_id, doctor_id, appointment_date, start_time, end_time, status, created_at, updated_at`

func (se *session) CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = appointment.StatusScheduled
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := se.q.ExecContext(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.PatientID, a.DoctorID, a.Date.Format("2006-01-02"), a.Start, a.End, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return appointment.Appointment{}, errors.Conflict("appointment slot already taken")
		}
		return appointment.Appointment{}, err
	}
	return a, nil
}

func (se *session) GetAppointment(ctx context.Context, id string) (appointment.Appointment, error) {
	var a appointment.Appointment
	err := sqlx.GetContext(ctx, se.q, &a, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1
	`, id)
	if err != nil {
		return appointment.Appointment{}, mapError(err, "appointment")
	}
	return a, nil
}

func (se *session) FindActiveAppointment(ctx context.Context, doctorID string, date time.Time, start string) (appointment.Appointment, error) {
	var a appointment.Appointment
	err := sqlx.GetContext(ctx, se.q, &a, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id::text = $1 AND appointment_date = $2 AND start_time = $3 AND status <> 'cancelled'
	`, doctorID, date.Format("2006-01-02"), start)
	if err != nil {
		return appointment.Appointment{}, mapError(err, "appointment")
	}
	return a, nil
}

func (se *session) UpdateAppointmentStatus(ctx context.Context, id string, status appointment.Status) (appointment.Appointment, error) {
	var a appointment.Appointment
	err := sqlx.GetContext(ctx, se.q, &a, `
		UPDATE appointments
		SET status = $2, updated_at = $3
		WHERE id::text = $1
		RETURNING `+appointmentColumns+`
	`, id, status, time.Now().UTC())
	if err != nil {
		return appointment.Appointment{}, mapError(err, "appointment")
	}
	return a, nil
}

func (se *session) ListAppointments(ctx context.Context, patientID, doctorID string, limit, offset int) ([]appointment.Appointment, int, error) {
	var total int
	err := sqlx.GetContext(ctx, se.q, &total, `
		SELECT count(*)
		FROM appointments
		WHERE ($1 = '' OR patient_id::text = $1) AND ($2 = '' OR doctor_id::text = $2)
	`, patientID, doctorID)
	if err != nil {
		return nil, 0, err
	}

	var items []appointment.Appointment
	err = sqlx.SelectContext(ctx, se.q, &items, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR patient_id::text = $1) AND ($2 = '' OR doctor_id::text = $2)
		ORDER BY appointment_date DESC, start_time DESC
		LIMIT $3 OFFSET $4
	`, patientID, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (se *session) ListScheduledByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]appointment.Appointment, int, error) {
	var total int
	err := sqlx.GetContext(ctx, se.q, &total, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id::text = $1 AND status = 'scheduled'
	`, doctorID)
	if err != nil {
		return nil, 0, err
	}

	var items []appointment.Appointment
	err = sqlx.SelectContext(ctx, se.q, &items, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id::text = $1 AND status = 'scheduled'
		ORDER BY appointment_date, start_time
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (se *session) CompletePastAppointments(ctx context.Context, now time.Time) (int64, error) {
	result, err := se.q.ExecContext(ctx, `
		UPDATE appointments
		SET status = 'completed', updated_at = $3
		WHERE status = 'scheduled'
		  AND (appointment_date < $1 OR (appointment_date = $1 AND end_time <= $2))
	`, now.Format("2006-01-02"), now.Format("15:04"), now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- AvailabilityStore ------------------------------------------------------

const slotColumns = `id, doctor_id, start_time, end_time, is_booked, created_at, updated_at`

func (se *session) CreateSlot(ctx context.Context, sl availability.Slot) (availability.Slot, error) {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sl.CreatedAt = now
	sl.UpdatedAt = now

	_, err := se.q.ExecContext(ctx, `
		INSERT INTO availability_slots (id, doctor_id, start_time, end_time, is_booked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sl.ID, sl.DoctorID, sl.Start, sl.End, sl.IsBooked, sl.CreatedAt, sl.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return availability.Slot{}, errors.Conflict("slot already published for this time")
		}
		return availability.Slot{}, err
	}
	return sl, nil
}

func (se *session) GetSlot(ctx context.Context, id string) (availability.Slot, error) {
	var sl availability.Slot
	err := sqlx.GetContext(ctx, se.q, &sl, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id::text = $1
	`, id)
	if err != nil {
		return availability.Slot{}, mapError(err, "availability slot")
	}
	return sl, nil
}

func (se *session) GetSlotOwner(ctx context.Context, id string) (string, error) {
	var owner string
	err := sqlx.GetContext(ctx, se.q, &owner, `
		SELECT doctor_id::text FROM availability_slots WHERE id::text = $1
	`, id)
	if err != nil {
		return "", mapError(err, "availability slot")
	}
	return owner, nil
}

func (se *session) ListSlotsByDoctor(ctx context.Context, doctorID string) ([]availability.Slot, error) {
	var slots []availability.Slot
	err := sqlx.SelectContext(ctx, se.q, &slots, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id::text = $1
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (se *session) UpdateSlot(ctx context.Context, id string, upd availability.Update) (availability.Slot, error) {
	var sl availability.Slot
	err := sqlx.GetContext(ctx, se.q, &sl, `
		UPDATE availability_slots
		SET start_time = COALESCE($2, start_time),
		    end_time   = COALESCE($3, end_time),
		    is_booked  = COALESCE($4, is_booked),
		    updated_at = $5
		WHERE id::text = $1
		RETURNING `+slotColumns+`
	`, id, upd.Start, upd.End, upd.IsBooked, time.Now().UTC())
	if err != nil {
		return availability.Slot{}, mapError(err, "availability slot")
	}
	return sl, nil
}

func (se *session) DeleteSlot(ctx context.Context, id string) error {
	result, err := se.q.ExecContext(ctx, `
		DELETE FROM availability_slots WHERE id::text = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("availability slot")
	}
	return nil
}

// --- AuditStore -------------------------------------------------------------

// AppendAudit writes one audit row on the pool connection, outside any
// in-flight business transaction, so the record survives a rollback.
func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4)
	`, e.ActorID, e.Action, e.Details, e.CreatedAt)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, actor_id, action, details, created_at
		FROM audit_log
		ORDER BY id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var entries []audit.Entry
	if err := sqlx.SelectContext(ctx, s.db, &entries, query, args...); err != nil {
		return nil, err
	}
	// Oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
