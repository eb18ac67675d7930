// Package availability implements the doctor availability slot CRUD.
package availability

import (
	"context"
	"time"

	"github.com/careslot/careslot/internal/domain/availability"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/storage"
	"github.com/careslot/careslot/internal/uow"
)

// CreateInput carries a new slot. DoctorID is optional; when empty the slot
// belongs to the acting doctor. Only admins may publish slots for another
// doctor.
type CreateInput struct {
	DoctorID string    `json:"doctor_id,omitempty"`
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
}

// Service implements the availability operations.
type Service struct {
	store storage.Store
	uow   *uow.Manager
	log   *logging.Logger
}

// New constructs the availability service.
func New(store storage.Store, manager *uow.Manager, log *logging.Logger) *Service {
	return &Service{store: store, uow: manager, log: log}
}

// Create publishes a new availability slot.
func (s *Service) Create(ctx context.Context, actor user.Ref, in CreateInput) (availability.Slot, error) {
	if actor.Role != user.RoleDoctor && actor.Role != user.RoleAdmin {
		return availability.Slot{}, errors.Forbidden("only doctors publish availability")
	}
	doctorID := in.DoctorID
	if doctorID == "" {
		doctorID = actor.ID
	}
	if doctorID != actor.ID && actor.Role != user.RoleAdmin {
		return availability.Slot{}, errors.Forbidden("cannot publish availability for another doctor")
	}
	if in.Start.IsZero() || in.End.IsZero() || !in.Start.Before(in.End) {
		return availability.Slot{}, errors.Validation("start_time must be before end_time")
	}

	var created availability.Slot
	err := s.uow.Run(ctx, &actor.ID, "create_availability", func(ctx context.Context, sess storage.Session) error {
		owner, err := sess.GetUser(ctx, doctorID)
		if err != nil {
			if errors.IsNotFound(err) {
				return errors.NotFound("doctor")
			}
			return err
		}
		if owner.Role != user.RoleDoctor {
			return errors.Validation("slots belong to doctors")
		}

		created, err = sess.CreateSlot(ctx, availability.Slot{
			DoctorID: doctorID,
			Start:    in.Start.UTC(),
			End:      in.End.UTC(),
		})
		return err
	})
	if err != nil {
		return availability.Slot{}, err
	}
	return created, nil
}

// ListForDoctor returns a doctor's published slots in chronological order.
func (s *Service) ListForDoctor(ctx context.Context, doctorID string) ([]availability.Slot, error) {
	slots, err := s.store.ListSlotsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	return slots, nil
}

// Update modifies a slot. Only the owning doctor or an admin may update, and
// the resulting window must remain valid.
func (s *Service) Update(ctx context.Context, actor user.Ref, id string, upd availability.Update) (availability.Slot, error) {
	var updated availability.Slot
	err := s.uow.Run(ctx, &actor.ID, "update_availability", func(ctx context.Context, sess storage.Session) error {
		slot, err := sess.GetSlot(ctx, id)
		if err != nil {
			return err
		}
		if slot.DoctorID != actor.ID && actor.Role != user.RoleAdmin {
			return errors.Forbidden("not the slot owner")
		}

		start, end := slot.Start, slot.End
		if upd.Start != nil {
			start = *upd.Start
		}
		if upd.End != nil {
			end = *upd.End
		}
		if !start.Before(end) {
			return errors.Validation("start_time must be before end_time")
		}

		updated, err = sess.UpdateSlot(ctx, id, upd)
		return err
	})
	if err != nil {
		return availability.Slot{}, err
	}
	return updated, nil
}

// Delete removes a slot. Only the owning doctor or an admin may delete.
func (s *Service) Delete(ctx context.Context, actor user.Ref, id string) error {
	return s.uow.Run(ctx, &actor.ID, "delete_availability", func(ctx context.Context, sess storage.Session) error {
		slot, err := sess.GetSlot(ctx, id)
		if err != nil {
			return err
		}
		if slot.DoctorID != actor.ID && actor.Role != user.RoleAdmin {
			return errors.Forbidden("not the slot owner")
		}
		return sess.DeleteSlot(ctx, id)
	})
}

// Owner resolves the owning doctor of a slot, for route-level ownership
// guards.
func (s *Service) Owner(ctx context.Context, id string) (string, error) {
	return s.store.GetSlotOwner(ctx, id)
}
