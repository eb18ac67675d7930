// Package availability defines doctor-owned time slots.
package availability

import "time"

// Slot is a bookable window published by a doctor. Slots are owned
// exclusively by their doctor; only the owner or an admin may mutate one.
type Slot struct {
	ID        string    `db:"id" json:"id"`
	DoctorID  string    `db:"doctor_id" json:"doctor_id"`
	Start     time.Time `db:"start_time" json:"start_time"`
	End       time.Time `db:"end_time" json:"end_time"`
	IsBooked  bool      `db:"is_booked" json:"is_booked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Update carries the mutable slot fields; nil means leave unchanged.
type Update struct {
	Start    *time.Time `json:"start_time,omitempty"`
	End      *time.Time `json:"end_time,omitempty"`
	IsBooked *bool      `json:"is_booked,omitempty"`
}
