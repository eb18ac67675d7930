// Package migrations applies the embedded schema migrations at startup.
package migrations

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/careslot/careslot/internal/errors"
)

//go:embed sql/*.sql
var files embed.FS

// Apply brings the database schema up to date. Running against an already
// current schema is a no-op.
func Apply(db *sqlx.DB) error {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return errors.Internal("load migration source", err)
	}
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return errors.Internal("init migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.Internal("init migrator", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Internal("apply migrations", err)
	}
	return nil
}
