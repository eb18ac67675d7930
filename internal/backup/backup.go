// Package backup implements database backup and restore, plus the cron
// scheduler that drives periodic backups and the appointment sweep.
package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/storage"
	"github.com/careslot/careslot/internal/uow"
)

// Dumper produces and restores database dumps.
type Dumper interface {
	Dump(ctx context.Context) (string, error)
	Restore(ctx context.Context, path string) error
}

// PgDump shells out to pg_dump and psql.
type PgDump struct {
	DSN string
	Dir string
}

// Dump writes a full SQL dump into Dir and returns its path.
func (d PgDump) Dump(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", errors.Internal("create backup dir", err)
	}
	path := filepath.Join(d.Dir, fmt.Sprintf("careslot-%s.sql", time.Now().UTC().Format("20060102T150405")))

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--file", path, d.DSN)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.Internal(fmt.Sprintf("pg_dump failed: %s", out), err)
	}
	return path, nil
}

// Restore replays a previously produced dump.
func (d PgDump) Restore(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.NotFound("backup file")
	}
	cmd := exec.CommandContext(ctx, "psql", "--file", path, d.DSN)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Internal(fmt.Sprintf("psql restore failed: %s", out), err)
	}
	return nil
}

// Result describes a completed backup.
type Result struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Service runs backup and restore as audited units of work.
type Service struct {
	dumper Dumper
	uow    *uow.Manager
	log    *logging.Logger
}

// NewService constructs the backup service.
func NewService(dumper Dumper, manager *uow.Manager, log *logging.Logger) *Service {
	return &Service{dumper: dumper, uow: manager, log: log}
}

// Run produces a backup on behalf of actor.
func (s *Service) Run(ctx context.Context, actorID string) (Result, error) {
	var result Result
	err := s.uow.Run(ctx, &actorID, "backup", func(ctx context.Context, _ storage.Session) error {
		path, err := s.dumper.Dump(ctx)
		if err != nil {
			return err
		}
		result = Result{Path: path, CreatedAt: time.Now().UTC()}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{"path": result.Path}).Info("backup created")
	return result, nil
}

// Restore replays the named backup on behalf of actor.
func (s *Service) Restore(ctx context.Context, actorID, path string) error {
	if path == "" {
		return errors.Validation("path is required")
	}
	err := s.uow.Run(ctx, &actorID, "restore", func(ctx context.Context, _ storage.Session) error {
		return s.dumper.Restore(ctx, path)
	})
	if err != nil {
		return err
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{"path": path}).Warn("database restored from backup")
	return nil
}
