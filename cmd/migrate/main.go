// xpanel-migrate applies or rolls back the control plane's versioned SQL
// migrations against the configured PostgreSQL database.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"xpanel/config"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps to apply (0 = all)")
	migrationsDir := flag.String("dir", "internal/store/migrations/sql", "path to migration files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(*direction, *steps, *migrationsDir, databaseURL(cfg.Database)); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}

func run(direction string, steps int, migrationsDir, databaseURL string) error {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsDir), databaseURL)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch {
	case steps != 0:
		if direction == "down" {
			steps = -steps
		}
		err = m.Steps(steps)
	case direction == "down":
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func databaseURL(db config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		db.User, db.Password, db.Host, db.Port, db.DBName, db.SSLMode)
}
