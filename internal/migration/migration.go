package migration

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
)

// Migrate runs the SQL files under internal/migration/sql against the
// ledger database.
type Migrate struct {
	SourcePath  string
	DatabaseURI string
}

func (m *Migrate) MigrateUp() error {
	mig, err := migrate.New(m.SourcePath, m.DatabaseURI)
	if err != nil {
		return err
	}
	defer mig.Close()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (m *Migrate) MigrateDown() error {
	mig, err := migrate.New(m.SourcePath, m.DatabaseURI)
	if err != nil {
		return err
	}
	defer mig.Close()

	if err := mig.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
