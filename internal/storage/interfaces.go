// Package storage declares the persistence interfaces the services depend
// on. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/careslot/careslot/internal/domain/appointment"
	"github.com/careslot/careslot/internal/domain/audit"
	"github.com/careslot/careslot/internal/domain/availability"
	"github.com/careslot/careslot/internal/domain/user"
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsersByRole(ctx context.Context, role user.Role, limit, offset int) ([]user.User, int, error)
}

// AppointmentStore persists appointments.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error)
	GetAppointment(ctx context.Context, id string) (appointment.Appointment, error)
	// FindActiveAppointment returns the non-cancelled appointment occupying
	// the (doctor, date, start) tuple, if any.
	FindActiveAppointment(ctx context.Context, doctorID string, date time.Time, start string) (appointment.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, status appointment.Status) (appointment.Appointment, error)
	// ListAppointments filters by patient and/or doctor; empty ids mean no
	// filter. Ordered by date desc, start desc.
	ListAppointments(ctx context.Context, patientID, doctorID string, limit, offset int) ([]appointment.Appointment, int, error)
	// ListScheduledByDoctor lists scheduled appointments for one doctor,
	// ordered ascending by date then start.
	ListScheduledByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]appointment.Appointment, int, error)
	// CompletePastAppointments marks scheduled appointments whose slot has
	// fully elapsed as completed and returns how many were updated.
	CompletePastAppointments(ctx context.Context, now time.Time) (int64, error)
}

// AvailabilityStore persists doctor availability slots.
type AvailabilityStore interface {
	CreateSlot(ctx context.Context, s availability.Slot) (availability.Slot, error)
	GetSlot(ctx context.Context, id string) (availability.Slot, error)
	// GetSlotOwner returns the owning doctor id for a slot.
	GetSlotOwner(ctx context.Context, id string) (string, error)
	ListSlotsByDoctor(ctx context.Context, doctorID string) ([]availability.Slot, error)
	UpdateSlot(ctx context.Context, id string, upd availability.Update) (availability.Slot, error)
	DeleteSlot(ctx context.Context, id string) error
}

// AuditStore appends to the audit trail. Appends are committed independently
// of any in-flight business transaction.
type AuditStore interface {
	AppendAudit(ctx context.Context, e audit.Entry) error
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Session groups the stores bound to one transactional scope (or, outside a
// transaction, to the base connection pool).
type Session interface {
	UserStore
	AppointmentStore
	AvailabilityStore
}

// TxRunner executes fn inside a single transaction: commit when fn returns
// nil, rollback otherwise. The context handed to fn carries the unit's
// deadline; the Session is valid only for the duration of the call.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(context.Context, Session) error) error
}

// Store is a full persistence backend: direct (auto-commit) session access,
// transactional execution, and the independently-committed audit trail.
type Store interface {
	Session
	TxRunner
	AuditStore
}
