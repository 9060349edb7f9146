package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/finecov/internal/migrate"
)

// migratorFunc builds a schema migrator for a ClickHouse DSN.
type migratorFunc func(log logrus.FieldLogger, dsn string) migrate.Migrator

func migrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse coverage schema",
		Long: `Applies, rolls back or reports the schema of the coverage table, using the
export.clickhouse connection settings from the config file.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, opts, func(m migrate.Migrator) error {
					return m.Up(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, opts, func(m migrate.Migrator) error {
					return m.Down(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, opts, func(m migrate.Migrator) error {
					version, dirty, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}

					_, err = fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty: %t\n", version, dirty)

					return err
				})
			},
		},
	)

	return cmd
}

func withMigrator(cmd *cobra.Command, opts *options, fn func(m migrate.Migrator) error) error {
	cfg, log, closer, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer closer.Close()

	ch := cfg.Export.ClickHouse
	if ch.Endpoint == "" || ch.Database == "" {
		return errors.New("export.clickhouse endpoint and database are required for migrations")
	}

	return fn(opts.newMigrator(log, migrate.DSN(ch.Endpoint, ch.Database, ch.Username, ch.Password)))
}
