package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirtyMigration means a previous migration failed halfway and needs a manual force.
var ErrDirtyMigration = errors.New("database schema is dirty")

// RunMigrations applies all pending migrations from dir, or from the nearest
// db/migrations above the working directory when dir is empty.
func RunMigrations(dir, dsn string, logger *slog.Logger) error {
	if dir == "" {
		found, err := FindMigrationDir(".")
		if err != nil {
			return err
		}
		dir = found
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(abs), dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return ErrDirtyMigration
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dir", abs)

	return nil
}

// FindMigrationDir walks up from start looking for db/migrations.
func FindMigrationDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve start dir: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "db", "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("db/migrations not found above %s", start)
		}
		dir = parent
	}
}
