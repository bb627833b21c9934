// Package main applies the pass history schema.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
	"github.com/limiquantix/drsim/internal/repository/postgres"
)

const usage = "usage: migrate [-config file] [-path dir] <up|down|down-all|version|force N>"

var errUsage = errors.New(usage)

// schema is the part of postgres.Migrator the commands drive.
type schema interface {
	Up() error
	Steps(n int) error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	migrationsPath := flag.String("path", "", "Directory holding the migration files (overrides database.migrations_path)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := validateArgs(flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *migrationsPath != "" {
		cfg.Database.MigrationsPath = *migrationsPath
	}

	migrator, err := postgres.NewMigrator(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer migrator.Close()

	if err := run(flag.Args(), migrator, logger); err != nil {
		logger.Fatal("Migration failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}

func validateArgs(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "up", "down", "down-all", "version":
		return nil
	case "force":
		if len(args) < 2 {
			return errUsage
		}
		if _, err := strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func run(args []string, s schema, logger *zap.Logger) error {
	if err := validateArgs(args); err != nil {
		return err
	}

	switch args[0] {
	case "up":
		return s.Up()
	case "down":
		return s.Steps(-1)
	case "down-all":
		return s.Down()
	case "version":
		version, dirty, err := s.Version()
		if err != nil {
			return err
		}
		logger.Info("Current schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		version, _ := strconv.Atoi(args[1])
		logger.Info("Forcing schema version", zap.Int("version", version))
		return s.Force(version)
	}
}
