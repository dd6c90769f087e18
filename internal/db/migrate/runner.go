// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"proof-of-life-gate/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// ErrInvalidDirection is returned for a direction other than up or down.
var ErrInvalidDirection = errors.New("migrate: direction must be up or down")

// Run applies migrations in the given direction using the provided DSN.
// Returns nil when there is nothing to do.
func Run(dsn string, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return db.ErrEmptyDSN
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("%w, got %q", ErrInvalidDirection, direction)
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
