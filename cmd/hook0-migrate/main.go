// Copyright 2025 James Ross
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hook0/dispatcher/internal/config"
	"github.com/hook0/dispatcher/internal/store"
)

func main() {
	var configPath, direction string

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&direction, "direction", "up", "Migration direction: up|down")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	source, err := iofs.New(store.MigrationsFS, "migrations")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init migration source: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.Dispatcher.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init migrator: %v\n", err)
		os.Exit(1)
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		fmt.Fprintf(os.Stderr, "unknown direction %q (want up|down)\n", direction)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migration %s failed: %v\n", direction, err)
		os.Exit(1)
	}

	fmt.Printf("migration %s complete\n", direction)
}
