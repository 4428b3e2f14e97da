package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/guildgate/guildgate/internal/config"
)

// MigrateCommands lists the verbs accepted by RunMigrate.
var MigrateCommands = []string{"up", "down", "steps", "version", "force"}

// RunMigrate applies or rolls back the schema. migrationsFS holds .sql files at
// its root. "steps" and "force" take an integer argument.
func RunMigrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) error {
	if logger == nil {
		logger = slog.Default()
	}
	arg, err := migrateArg(command, args)
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, DSN(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = &migrateLogger{logger: logger}

	switch command {
	case "up":
		err = ignoreNoChange(m.Up())
	case "down":
		err = ignoreNoChange(m.Down())
	case "steps":
		err = ignoreNoChange(m.Steps(arg))
	case "force":
		err = m.Force(arg)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	ver, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("schema empty", slog.String("command", command))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate version: %w", err)
	}
	logger.Info("schema version", slog.String("command", command), slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	return nil
}

func migrateArg(command string, args []string) (int, error) {
	switch command {
	case "up", "down", "version":
		return 0, nil
	case "steps", "force":
		if len(args) == 0 {
			return 0, fmt.Errorf("%s requires an integer argument", command)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid %s argument %q: %w", command, args[0], err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unknown migrate command: %s (use: up, down, steps, version, force)", command)
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
