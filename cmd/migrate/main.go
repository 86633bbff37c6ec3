// Command migrate applies the embedded schema migrations to the configured
// PostgreSQL database.
//
// Usage:
//
//	migrate up         apply all pending migrations
//	migrate down       roll back one migration
//	migrate version    print the current schema version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/config"
	"github.com/connecthub/chat-app/migrations"
)

func main() {
	log := logrus.New()

	if len(os.Args) < 2 {
		log.Fatal("usage: migrate up|down|version")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.WithError(err).Fatal("loading embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("initializing migrator")
	}
	defer m.Close()

	switch os.Args[1] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.WithError(verr).Fatal("reading schema version")
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return
	default:
		log.Fatalf("unknown command %q", os.Args[1])
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("migrations applied")
}
