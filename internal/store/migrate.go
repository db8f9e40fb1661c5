package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/smsq/internal/store/migrations"
)

// MigrateResult describes what happened during initialization.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Initialize creates the contact, draft and batch tables and their indexes
// if they do not exist yet. It is safe to call on every start; existing rows
// are left alone.
func (db *DB) Initialize() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, wrap("initialize", fmt.Errorf("migration source: %w", err))
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, wrap("initialize", fmt.Errorf("migration driver: %w", err))
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, wrap("initialize", fmt.Errorf("migration instance: %w", err))
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, wrap("initialize", fmt.Errorf("migration up: %w", err))
	}

	return migrateResult(m, changed)
}

type versioner interface {
	Version() (uint, bool, error)
}

func migrateResult(m versioner, changed bool) (*MigrateResult, error) {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, wrap("initialize", fmt.Errorf("migration version: %w", err))
	}
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}
