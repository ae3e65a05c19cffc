package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// ErrDirtySchema is returned when a previous run stopped halfway through a
// migration. An operator has to repair and force the version by hand.
var ErrDirtySchema = errors.New("schema_migrations is dirty")

// Result reports the schema version before and after a run. Zero means no
// migration had been applied.
type Result struct {
	From uint
	To   uint
}

func (r Result) Changed() bool { return r.From != r.To }

// Apply brings the postgres schema up to the newest embedded version.
// The migrator is not closed because that would close the shared *sql.DB.
func Apply(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}

	from, err := currentVersion(migrator)
	if err != nil {
		return Result{}, err
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Result{From: from}, fmt.Errorf("apply migrations: %w", err)
	}

	to, err := currentVersion(migrator)
	if err != nil {
		return Result{From: from}, err
	}
	return Result{From: from, To: to}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(schemaFiles, "sql")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}

func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}
