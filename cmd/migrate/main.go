package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/migrations"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (required)")
	flag.StringVar(&migrationsPath, "path", "", "Migrations directory; the embedded schema is used when empty")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, steps, version, force")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	log := logger.For("migrate")
	m, err := open(databaseURL, migrationsPath)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		log.Info("running migrations up", "path", migrationsPath)
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to run, database is up to date")
			return
		}
		if err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		}
		log.Info("migrations completed")

	case "down":
		log.Info("rolling back migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("failed to roll back migrations", "error", err)
		}
		log.Info("rollback completed")

	case "steps":
		n, err := intArg("steps")
		if err != nil {
			logger.Fatal("invalid step count", "error", err)
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("failed to migrate", "steps", n, "error", err)
		}
		log.Info("migrated", "steps", n)

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("failed to get version", "error", err)
		}
		log.Info("current version", "version", version, "dirty", dirty)

	case "force":
		version, err := intArg("force")
		if err != nil {
			logger.Fatal("invalid version number", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("failed to force version", "error", err)
		}
		log.Info("forced version", "version", version)

	default:
		logger.Fatal("unknown command, use up, down, steps, version or force", "command", command)
	}
}

func open(databaseURL, path string) (*migrate.Migrate, error) {
	if path == "" {
		return migrations.New(databaseURL)
	}
	return migrate.New(fmt.Sprintf("file://%s", path), databaseURL)
}

func intArg(command string) (int, error) {
	if flag.NArg() < 1 {
		return 0, fmt.Errorf("-command %s requires a number argument", command)
	}
	return strconv.Atoi(flag.Arg(0))
}
