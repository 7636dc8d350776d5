package store

import (
	"database/sql"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/napryag/doctor_booking_bot/migrations"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errs.New("failed to open db").Wrap(err)
	}
	defer func() { _ = db.Close() }()

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return errs.New("failed to create db driver").Wrap(err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return errs.New("failed to create source driver").Wrap(err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return errs.New("failed to create migrator").Wrap(err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errs.New("failed to migrate up").Wrap(err)
	}
	return nil
}
