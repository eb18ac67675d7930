// Package memory provides an in-memory storage backend used by tests and
// local development. Transactions are simulated with copy-on-write: RunTx
// works on a deep copy and swaps it in on commit, so a failed body leaves no
// trace, matching the relational backend's semantics.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careslot/careslot/internal/domain/appointment"
	"github.com/careslot/careslot/internal/domain/audit"
	"github.com/careslot/careslot/internal/domain/availability"
	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/storage"
)

// Store is the in-memory backend. The zero value is not usable; call New.
type Store struct {
	mu    sync.Mutex
	data  *data
	audit []audit.Entry
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

type data struct {
	users        map[string]user.User
	appointments map[string]appointment.Appointment
	slots        map[string]availability.Slot
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data: &data{
			users:        make(map[string]user.User),
			appointments: make(map[string]appointment.Appointment),
			slots:        make(map[string]availability.Slot),
		},
		now: time.Now,
	}
}

func (d *data) clone() *data {
	c := &data{
		users:        make(map[string]user.User, len(d.users)),
		appointments: make(map[string]appointment.Appointment, len(d.appointments)),
		slots:        make(map[string]availability.Slot, len(d.slots)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	return c
}

// RunTx executes fn on a private copy of the data and swaps the copy in only
// when fn succeeds. The store lock is held for the whole call, serialising
// concurrent units of work the way row locks would at the database.
func (s *Store) RunTx(ctx context.Context, fn func(context.Context, storage.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.data.clone()
	if err := fn(ctx, &session{data: work, now: s.now}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// session operates on a data set without locking; callers hold the store
// lock (RunTx) or go through the Store wrappers below.
type session struct {
	data *data
	now  func() time.Time
}

var _ storage.Session = (*session)(nil)

// --- UserStore --------------------------------------------------------------

func (se *session) CreateUser(_ context.Context, u user.User) (user.User, error) {
	email := strings.ToLower(u.Email)
	for _, existing := range se.data.users {
		if existing.Email == email {
			return user.User{}, errors.Conflict("email already registered")
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = email
	now := se.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	se.data.users[u.ID] = u
	return u, nil
}

func (se *session) GetUser(_ context.Context, id string) (user.User, error) {
	u, ok := se.data.users[id]
	if !ok {
		return user.User{}, errors.NotFound("user")
	}
	return u, nil
}

func (se *session) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	email = strings.ToLower(email)
	for _, u := range se.data.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, errors.NotFound("user")
}

func (se *session) ListUsersByRole(_ context.Context, role user.Role, limit, offset int) ([]user.User, int, error) {
	var all []user.User
	for _, u := range se.data.users {
		if u.Role == role {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	total := len(all)
	return paginate(all, limit, offset), total, nil
}

// --- AppointmentStore -------------------------------------------------------

func sameDay(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

func (se *session) CreateAppointment(_ context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	// Mirror the relational unique constraint on (doctor, date, start)
	// for non-cancelled rows.
	for _, existing := range se.data.appointments {
		if existing.DoctorID == a.DoctorID &&
			sameDay(existing.Date, a.Date) &&
			existing.Start == a.Start &&
			existing.Status != appointment.StatusCancelled {
			return appointment.Appointment{}, errors.Conflict("appointment slot already taken")
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = appointment.StatusScheduled
	}
	now := se.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	se.data.appointments[a.ID] = a
	return a, nil
}

func (se *session) GetAppointment(_ context.Context, id string) (appointment.Appointment, error) {
	a, ok := se.data.appointments[id]
	if !ok {
		return appointment.Appointment{}, errors.NotFound("appointment")
	}
	return a, nil
}

func (se *session) FindActiveAppointment(_ context.Context, doctorID string, date time.Time, start string) (appointment.Appointment, error) {
	for _, a := range se.data.appointments {
		if a.DoctorID == doctorID && sameDay(a.Date, date) && a.Start == start &&
			a.Status != appointment.StatusCancelled {
			return a, nil
		}
	}
	return appointment.Appointment{}, errors.NotFound("appointment")
}

func (se *session) UpdateAppointmentStatus(_ context.Context, id string, status appointment.Status) (appointment.Appointment, error) {
	a, ok := se.data.appointments[id]
	if !ok {
		return appointment.Appointment{}, errors.NotFound("appointment")
	}
	a.Status = status
	a.UpdatedAt = se.now().UTC()
	se.data.appointments[id] = a
	return a, nil
}

func (se *session) ListAppointments(_ context.Context, patientID, doctorID string, limit, offset int) ([]appointment.Appointment, int, error) {
	var all []appointment.Appointment
	for _, a := range se.data.appointments {
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		if doctorID != "" && a.DoctorID != doctorID {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !sameDay(all[i].Date, all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].Start > all[j].Start
	})
	total := len(all)
	return paginate(all, limit, offset), total, nil
}

func (se *session) ListScheduledByDoctor(_ context.Context, doctorID string, limit, offset int) ([]appointment.Appointment, int, error) {
	var all []appointment.Appointment
	for _, a := range se.data.appointments {
		if a.DoctorID == doctorID && a.Status == appointment.StatusScheduled {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !sameDay(all[i].Date, all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].Start < all[j].Start
	})
	total := len(all)
	return paginate(all, limit, offset), total, nil
}

func (se *session) CompletePastAppointments(_ context.Context, now time.Time) (int64, error) {
	var count int64
	today := now.Format("2006-01-02")
	cutoff := now.Format("15:04")
	for id, a := range se.data.appointments {
		if a.Status != appointment.StatusScheduled {
			continue
		}
		day := a.Date.Format("2006-01-02")
		if day < today || (day == today && a.End <= cutoff) {
			a.Status = appointment.StatusCompleted
			a.UpdatedAt = se.now().UTC()
			se.data.appointments[id] = a
			count++
		}
	}
	return count, nil
}

// --- AvailabilityStore ------------------------------------------------------

func (se *session) CreateSlot(_ context.Context, sl availability.Slot) (availability.Slot, error) {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	for _, existing := range se.data.slots {
		if existing.DoctorID == sl.DoctorID && existing.Start.Equal(sl.Start) {
			return availability.Slot{}, errors.Conflict("slot already published for this time")
		}
	}
	now := se.now().UTC()
	sl.CreatedAt = now
	sl.UpdatedAt = now
	se.data.slots[sl.ID] = sl
	return sl, nil
}

func (se *session) GetSlot(_ context.Context, id string) (availability.Slot, error) {
	sl, ok := se.data.slots[id]
	if !ok {
		return availability.Slot{}, errors.NotFound("availability slot")
	}
	return sl, nil
}

func (se *session) GetSlotOwner(_ context.Context, id string) (string, error) {
	sl, ok := se.data.slots[id]
	if !ok {
		return "", errors.NotFound("availability slot")
	}
	return sl.DoctorID, nil
}

func (se *session) ListSlotsByDoctor(_ context.Context, doctorID string) ([]availability.Slot, error) {
	var out []availability.Slot
	for _, sl := range se.data.slots {
		if sl.DoctorID == doctorID {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (se *session) UpdateSlot(_ context.Context, id string, upd availability.Update) (availability.Slot, error) {
	sl, ok := se.data.slots[id]
	if !ok {
		return availability.Slot{}, errors.NotFound("availability slot")
	}
	if upd.Start != nil {
		sl.Start = *upd.Start
	}
	if upd.End != nil {
		sl.End = *upd.End
	}
	if upd.IsBooked != nil {
		sl.IsBooked = *upd.IsBooked
	}
	sl.UpdatedAt = se.now().UTC()
	se.data.slots[id] = sl
	return sl, nil
}

func (se *session) DeleteSlot(_ context.Context, id string) error {
	if _, ok := se.data.slots[id]; !ok {
		return errors.NotFound("availability slot")
	}
	delete(se.data.slots, id)
	return nil
}

// --- Store wrappers (auto-commit access) ------------------------------------

func (s *Store) session() *session { return &session{data: s.data, now: s.now} }

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().CreateUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().GetUser(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().GetUserByEmail(ctx, email)
}

func (s *Store) ListUsersByRole(ctx context.Context, role user.Role, limit, offset int) ([]user.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().ListUsersByRole(ctx, role, limit, offset)
}

func (s *Store) CreateAppointment(ctx context.Context, a appointment.Appointment) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().CreateAppointment(ctx, a)
}

func (s *Store) GetAppointment(ctx context.Context, id string) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().GetAppointment(ctx, id)
}

func (s *Store) FindActiveAppointment(ctx context.Context, doctorID string, date time.Time, start string) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().FindActiveAppointment(ctx, doctorID, date, start)
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, id string, status appointment.Status) (appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().UpdateAppointmentStatus(ctx, id, status)
}

func (s *Store) ListAppointments(ctx context.Context, patientID, doctorID string, limit, offset int) ([]appointment.Appointment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().ListAppointments(ctx, patientID, doctorID, limit, offset)
}

func (s *Store) ListScheduledByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]appointment.Appointment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().ListScheduledByDoctor(ctx, doctorID, limit, offset)
}

func (s *Store) CompletePastAppointments(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().CompletePastAppointments(ctx, now)
}

func (s *Store) CreateSlot(ctx context.Context, sl availability.Slot) (availability.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().CreateSlot(ctx, sl)
}

func (s *Store) GetSlot(ctx context.Context, id string) (availability.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().GetSlot(ctx, id)
}

func (s *Store) GetSlotOwner(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().GetSlotOwner(ctx, id)
}

func (s *Store) ListSlotsByDoctor(ctx context.Context, doctorID string) ([]availability.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().ListSlotsByDoctor(ctx, doctorID)
}

func (s *Store) UpdateSlot(ctx context.Context, id string, upd availability.Update) (availability.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().UpdateSlot(ctx, id, upd)
}

func (s *Store) DeleteSlot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session().DeleteSlot(ctx, id)
}

// --- AuditStore -------------------------------------------------------------

// AppendAudit is committed independently of any in-flight RunTx; in memory
// that simply means it appends to its own slice.
func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.audit) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAudit(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.audit))
	copy(out, s.audit)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
