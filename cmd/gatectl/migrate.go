package main

import (
	"database/sql"

	"github.com/spf13/cobra"

	"votegate/internal/platform/postgres"
)

func (c *cli) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	subcommands := []struct {
		use   string
		short string
		run   func(*sql.DB) error
	}{
		{"up", "Apply all pending migrations", postgres.MigrateUp},
		{"down", "Roll back the latest migration", postgres.MigrateDown},
		{"status", "Print the state of every migration", postgres.MigrationStatus},
	}
	for _, sub := range subcommands {
		cmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := c.openDB(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				if err := sub.run(db); err != nil {
					return err
				}
				c.logger.Info("migrate "+sub.use+" done")
				return nil
			},
		})
	}
	return cmd
}
