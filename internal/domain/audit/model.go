// Package audit defines the append-only audit trail entry.
package audit

import "time"

// Outcome labels how a unit of work ended.
const (
	OutcomeCommit   = "COMMIT"
	OutcomeRollback = "ROLLBACK"
)

// Entry records the outcome of one completed unit of work. ActorID is nil
// when no actor could be resolved, e.g. a failed login. Entries are written
// exactly once and never mutated or deleted by the application.
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	ActorID   *string   `db:"actor_id" json:"actor_id"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
