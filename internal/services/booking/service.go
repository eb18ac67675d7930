// Package booking implements appointment scheduling: creation with conflict
// resolution, cancellation, listings and the auto-completion sweep.
package booking

import (
	"context"
	"time"

	"github.com/careslot/careslot/internal/domain/appointment"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/metrics"
	"github.com/careslot/careslot/internal/storage"
	"github.com/careslot/careslot/internal/uow"
)

// CreateInput carries a booking request. The patient is always the acting
// user; it is never taken from the request body.
type CreateInput struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"appointment_date"`
	Start    string `json:"start_time"`
	End      string `json:"end_time"`
}

// Service implements the booking operations.
type Service struct {
	store storage.Store
	uow   *uow.Manager
	log   *logging.Logger
	now   func() time.Time
}

// New constructs the booking service.
func New(store storage.Store, manager *uow.Manager, log *logging.Logger) *Service {
	return &Service{store: store, uow: manager, log: log, now: time.Now}
}

// Create books an appointment for the acting patient. Only patients may
// book, and the patient id is always the caller's own. The (doctor, date,
// start) tuple may hold at most one non-cancelled appointment: a pre-check
// inside the transaction rejects an occupied slot, and the storage unique
// constraint backstops the race where two bookings pass the pre-check
// concurrently. Either path surfaces as a conflict.
func (s *Service) Create(ctx context.Context, actor user.Ref, in CreateInput) (appointment.Appointment, error) {
	if actor.Role != user.RolePatient {
		return appointment.Appointment{}, errors.Forbidden("only patients can book appointments")
	}
	if in.DoctorID == "" {
		return appointment.Appointment{}, errors.Validation("doctor_id is required")
	}

	date, start, end, err := parseSlot(in.Date, in.Start, in.End)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if s.inPast(date, start) {
		return appointment.Appointment{}, errors.Validation("appointment must be in the future")
	}

	var created appointment.Appointment
	err = s.uow.Run(ctx, &actor.ID, "book_appointment", func(ctx context.Context, sess storage.Session) error {
		doctor, err := sess.GetUser(ctx, in.DoctorID)
		if err != nil {
			if errors.IsNotFound(err) {
				return errors.NotFound("doctor")
			}
			return err
		}
		if doctor.Role != user.RoleDoctor || !doctor.IsActive {
			return errors.Validation("selected user is not an available doctor")
		}

		if _, err := sess.FindActiveAppointment(ctx, in.DoctorID, date, start); err == nil {
			return errors.Conflict("appointment slot already taken")
		} else if !errors.IsNotFound(err) {
			return err
		}

		created, err = sess.CreateAppointment(ctx, appointment.Appointment{
			PatientID: actor.ID,
			DoctorID:  in.DoctorID,
			Date:      date,
			Start:     start,
			End:       end,
			Status:    appointment.StatusScheduled,
		})
		return err
	})
	switch {
	case err == nil:
		metrics.RecordBooking("created")
	case errors.IsConflict(err):
		metrics.RecordBooking("conflict")
	default:
		metrics.RecordBooking("error")
	}
	if err != nil {
		return appointment.Appointment{}, err
	}

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"appointment_id": created.ID,
		"doctor_id":      created.DoctorID,
	}).Info("appointment booked")
	return created, nil
}

// ListMine returns the caller's appointment history, newest first. Patients
// see appointments they booked, doctors see appointments booked with them,
// admins see everything.
func (s *Service) ListMine(ctx context.Context, actor user.Ref, limit, offset int) (appointment.Page, error) {
	limit, offset = clampPage(limit, offset)

	patientID, doctorID := actor.ID, ""
	switch actor.Role {
	case user.RoleDoctor:
		patientID, doctorID = "", actor.ID
	case user.RoleAdmin:
		patientID = ""
	}
	items, total, err := s.store.ListAppointments(ctx, patientID, doctorID, limit, offset)
	if err != nil {
		return appointment.Page{}, err
	}
	return appointment.NewPage(items, total, limit, offset), nil
}

// Cancel cancels an appointment. Cancelling an already cancelled appointment
// is a no-op returning the current state; a completed appointment cannot be
// cancelled. The booking patient, the appointed doctor and admins may cancel.
func (s *Service) Cancel(ctx context.Context, actor user.Ref, id string) (appointment.Appointment, error) {
	var result appointment.Appointment
	err := s.uow.Run(ctx, &actor.ID, "cancel_appointment", func(ctx context.Context, sess storage.Session) error {
		appt, err := sess.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if actor.ID != appt.PatientID && actor.ID != appt.DoctorID && actor.Role != user.RoleAdmin {
			return errors.Forbidden("not a participant of this appointment")
		}

		switch appt.Status {
		case appointment.StatusCancelled:
			result = appt
			return nil
		case appointment.StatusCompleted:
			return errors.Conflict("appointment already completed")
		}

		result, err = sess.UpdateAppointmentStatus(ctx, id, appointment.StatusCancelled)
		return err
	})
	if err != nil {
		return appointment.Appointment{}, err
	}
	return result, nil
}

// ListForDoctor returns a doctor's scheduled appointments in chronological
// order. Doctors may only query their own schedule; admins may query any.
func (s *Service) ListForDoctor(ctx context.Context, actor user.Ref, doctorID string, limit, offset int) (appointment.Page, error) {
	if actor.ID != doctorID && actor.Role != user.RoleAdmin {
		return appointment.Page{}, errors.Forbidden("not this doctor's schedule")
	}
	limit, offset = clampPage(limit, offset)

	items, total, err := s.store.ListScheduledByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return appointment.Page{}, err
	}
	return appointment.NewPage(items, total, limit, offset), nil
}

// CompletePast marks scheduled appointments whose slot has fully elapsed as
// completed. It runs as its own unit of work with no actor; the scheduler
// invokes it periodically.
func (s *Service) CompletePast(ctx context.Context) (int64, error) {
	var n int64
	err := s.uow.Run(ctx, nil, "complete_past_appointments", func(ctx context.Context, sess storage.Session) error {
		var err error
		n, err = sess.CompletePastAppointments(ctx, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordSweep(n)
	if n > 0 {
		s.log.WithFields(map[string]interface{}{"count": n}).Info("appointments auto-completed")
	}
	return n, nil
}

func parseSlot(dateStr, start, end string) (time.Time, string, string, error) {
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, "", "", errors.Validation("appointment_date must be YYYY-MM-DD")
	}
	for _, v := range []string{start, end} {
		if _, err := time.Parse("15:04", v); err != nil || len(v) != 5 {
			return time.Time{}, "", "", errors.Validation("times must be zero-padded HH:MM")
		}
	}
	if start >= end {
		return time.Time{}, "", "", errors.Validation("start_time must be before end_time")
	}
	return date, start, end, nil
}

func (s *Service) inPast(date time.Time, start string) bool {
	now := s.now().UTC()
	today := now.Format("2006-01-02")
	day := date.Format("2006-01-02")
	if day != today {
		return day < today
	}
	return start <= now.Format("15:04")
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
