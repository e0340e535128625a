// Package audit wires the optional Postgres audit mirror: applying the
// schema in migrations/ via golang-migrate, then handing back an
// eventlog.Sink backed by it. Additive only — spec.md's Non-goals keep
// OffenseLedger itself in-memory; this package only gives SEC/VER events
// a durable home beyond the log channel and process lifetime.
//
// Grounded on the teacher's cmd/migrate.go: a file-source migrator
// pointed at an on-disk migrations directory, resolved relative to the
// binary the same way (resolveMigrationsDir/resolveDSN), rather than an
// embedded filesystem — the teacher ships its migrations directory
// alongside the binary, not compiled into it.
package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/spamguard/core/internal/eventlog"
)

const defaultMigrationsDir = "migrations"

// resolveMigrationsDir finds the migrations directory next to the
// working directory first, falling back to a path relative to the
// running executable — mirroring cmd/migrate.go's resolveMigrationsDir,
// which tolerates being invoked both from a repo checkout and an
// installed binary.
func resolveMigrationsDir() (string, error) {
	if _, err := os.Stat(defaultMigrationsDir); err == nil {
		abs, err := filepath.Abs(defaultMigrationsDir)
		if err != nil {
			return "", err
		}
		return abs, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	candidate := filepath.Join(filepath.Dir(exe), defaultMigrationsDir)
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("locate migrations directory: %w", err)
	}
	return candidate, nil
}

// ApplyMigrations runs every pending up migration against dsn, returning
// nil if the schema was already current (migrate.ErrNoChange).
func ApplyMigrations(dsn string) error {
	dir, err := resolveMigrationsDir()
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}

	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// OpenSink applies pending migrations against dsn and returns a ready
// eventlog.Sink. Callers that set SPAMGUARD_POSTGRES_DSN get this; a
// migration failure is fatal at startup rather than silently leaving the
// audit table mismatched with the code writing to it.
func OpenSink(dsn string) (eventlog.Sink, func() error, error) {
	if err := ApplyMigrations(dsn); err != nil {
		return nil, nil, err
	}
	sink, err := eventlog.OpenPostgresSink(dsn)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}
