// Package uow coordinates units of work: each business operation runs inside
// one transaction, and its outcome is recorded on the audit trail regardless
// of whether the transaction committed.
package uow

import (
	"context"
	"time"

	"github.com/careslot/careslot/internal/domain/audit"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/storage"
)

const (
	// DefaultTimeout bounds one unit of work end to end.
	DefaultTimeout = 30 * time.Second

	// auditTimeout bounds the outcome write. Rollback audits run on a fresh
	// context because the unit's own context may already be dead.
	auditTimeout = 5 * time.Second
)

// Manager runs units of work. The audit write is best effort: a failure to
// record an outcome is logged but never changes the result of the unit.
type Manager struct {
	runner  storage.TxRunner
	audit   storage.AuditStore
	log     *logging.Logger
	timeout time.Duration
	now     func() time.Time
}

// New creates a Manager. A non-positive timeout falls back to DefaultTimeout.
func New(runner storage.TxRunner, auditStore storage.AuditStore, log *logging.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		runner:  runner,
		audit:   auditStore,
		log:     log,
		timeout: timeout,
		now:     time.Now,
	}
}

// Run executes fn as one unit of work named action on behalf of actor (nil
// when no actor was resolved, e.g. a failed login). The context passed to fn
// carries the unit's deadline; fn must issue its queries against it. On
// success the unit commits and a "<action> COMMIT" entry is appended; on
// failure the unit rolls back, a "<action> ROLLBACK" entry carrying the error
// text is appended, and fn's error is returned unchanged.
func (m *Manager) Run(ctx context.Context, actor *string, action string, fn func(context.Context, storage.Session) error) error {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.runner.RunTx(runCtx, fn)
	if err != nil {
		m.record(actor, action+" "+audit.OutcomeRollback, err.Error())
		return err
	}
	m.record(actor, action+" "+audit.OutcomeCommit, "completed successfully")
	return nil
}

func (m *Manager) record(actor *string, action, details string) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	// The actor pointer is dereferenced here, after the unit ran, so units
	// that resolve their actor mid-flight (registration) are attributed
	// correctly. An empty id means no actor was resolved.
	if actor != nil && *actor == "" {
		actor = nil
	}
	entry := audit.Entry{
		ActorID:   actor,
		Action:    action,
		Details:   details,
		CreatedAt: m.now().UTC(),
	}
	if err := m.audit.AppendAudit(ctx, entry); err != nil {
		m.log.WithError(err).WithFields(map[string]interface{}{
			"action": action,
		}).Error("audit append failed")
	}
}
