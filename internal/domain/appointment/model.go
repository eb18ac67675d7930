// Package appointment defines the appointment entity and its status state
// machine.
package appointment

import "time"

// Status is the closed set of appointment states.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether s -> next is a legal transition. The only
// legal edges are scheduled -> cancelled and scheduled -> completed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusScheduled && (next == StatusCancelled || next == StatusCompleted)
}

// Appointment links a patient and a doctor to a time slot on a date.
// Start and End are zero-padded "HH:MM" times of day, so lexical order
// matches chronological order. At most one non-cancelled appointment may
// exist per (doctor, date, start) tuple.
type Appointment struct {
	ID        string    `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	DoctorID  string    `db:"doctor_id" json:"doctor_id"`
	Date      time.Time `db:"appointment_date" json:"appointment_date"`
	Start     string    `db:"start_time" json:"start_time"`
	End       string    `db:"end_time" json:"end_time"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Page is a paginated list of appointments. HasNext is offset+limit < Total.
type Page struct {
	Items   []Appointment `json:"items"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasNext bool          `json:"has_next"`
}

// NewPage assembles a Page and computes HasNext.
func NewPage(items []Appointment, total, limit, offset int) Page {
	if items == nil {
		items = []Appointment{}
	}
	return Page{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasNext: offset+limit < total,
	}
}
