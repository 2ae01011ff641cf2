// Package migrations holds the Postgres schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

const (
	sourceName     = "iofs"
	sourceDir      = "sql"
	pgxDriverURL   = "pgx5://"
	postgresScheme = "postgres://"
	postgresAlias  = "postgresql://"
)

// ErrUnsupportedDatabaseURL is returned for URLs that do not point at Postgres.
var ErrUnsupportedDatabaseURL = errors.New("migrations require a postgres database url")

//go:embed sql/*.sql
var files embed.FS

// Source returns the embedded migration files as a golang-migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(files, sourceDir)
}

// DriverURL rewrites a postgres:// URL to the scheme of the pgx/v5 migrate driver.
func DriverURL(databaseURL string) (string, error) {
	trimmed := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(trimmed, postgresScheme):
		return pgxDriverURL + strings.TrimPrefix(trimmed, postgresScheme), nil
	case strings.HasPrefix(trimmed, postgresAlias):
		return pgxDriverURL + strings.TrimPrefix(trimmed, postgresAlias), nil
	case strings.HasPrefix(trimmed, pgxDriverURL):
		return trimmed, nil
	default:
		return "", ErrUnsupportedDatabaseURL
	}
}

// Up applies every pending migration and returns the resulting schema version.
func Up(databaseURL string, logger *zap.Logger) (uint, error) {
	migrator, err := newMigrator(databaseURL, logger)
	if err != nil {
		return 0, err
	}
	defer closeMigrator(migrator, logger)
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	return currentVersion(migrator)
}

// Down rolls back the given number of migrations.
func Down(databaseURL string, steps int, logger *zap.Logger) (uint, error) {
	if steps <= 0 {
		return 0, fmt.Errorf("migrate down: steps must be positive, got %d", steps)
	}
	migrator, err := newMigrator(databaseURL, logger)
	if err != nil {
		return 0, err
	}
	defer closeMigrator(migrator, logger)
	if err := migrator.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate down: %w", err)
	}
	return currentVersion(migrator)
}

func newMigrator(databaseURL string, logger *zap.Logger) (*migrate.Migrate, error) {
	driverURL, err := DriverURL(databaseURL)
	if err != nil {
		return nil, err
	}
	sourceDriver, err := Source()
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	migrator, err := migrate.NewWithSourceInstance(sourceName, sourceDriver, driverURL)
	if err != nil {
		return nil, fmt.Errorf("migration init: %w", err)
	}
	if logger != nil {
		migrator.Log = migrateLogger{logger: logger.Sugar()}
	}
	return migrator, nil
}

func currentVersion(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration version %d is dirty", version)
	}
	return version, nil
}

func closeMigrator(migrator *migrate.Migrate, logger *zap.Logger) {
	sourceErr, databaseErr := migrator.Close()
	if logger == nil {
		return
	}
	if sourceErr != nil {
		logger.Warn("migration source close failed", zap.Error(sourceErr))
	}
	if databaseErr != nil {
		logger.Warn("migration database close failed", zap.Error(databaseErr))
	}
}

type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (adapter migrateLogger) Printf(format string, values ...any) {
	adapter.logger.Infof(strings.TrimSuffix(format, "\n"), values...)
}

func (adapter migrateLogger) Verbose() bool {
	return false
}
