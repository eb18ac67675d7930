// Package user defines the account entity and the role enum used for access
// control decisions across the platform.
package user

import "time"

// Role is the closed set of actor roles.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// User is a stored account. PasswordHash never leaves the storage and service
// layers; the json tag keeps it out of API responses.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Ref identifies the acting user of a request: the resolved token subject and
// role, without the stored record. It is all most authorization checks need.
type Ref struct {
	ID   string
	Role Role
}

// Page is a paginated list of users.
type Page struct {
	Items   []User `json:"items"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasNext bool   `json:"has_next"`
}
