package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guildgate/guildgate/db"
	"github.com/guildgate/guildgate/internal/config"
	dbpkg "github.com/guildgate/guildgate/internal/db"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <" + strings.Join(dbpkg.MigrateCommands, "|") + "> [n]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: dbpkg.MigrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runMigrations(log, cfg.Postgres, args[0], args[1:])
		},
	}
}

func migrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(db.MigrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return sub, nil
}

func runMigrations(log *slog.Logger, cfg config.PostgresConfig, command string, args []string) error {
	source, err := migrationsFS()
	if err != nil {
		return err
	}
	return dbpkg.RunMigrate(log, cfg, source, command, args)
}
