package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/audioshelf/internal/logging"
	"github.com/menta2k/audioshelf/internal/store"
)

func (c *CLI) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the metadata database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewDatabase(c.config.Storage.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.MigrateUp(db)
			if err != nil {
				return err
			}
			v, err := store.Version(db)
			if err != nil {
				return err
			}
			logging.FromContext(cmd.Context()).Info("migrations applied", "count", n, "version", v)
			fmt.Fprintf(c.stdout, "schema version %d (%d applied)\n", v, n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewDatabase(c.config.Storage.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			rolled, err := store.MigrateDown(db)
			if err != nil {
				return err
			}
			logging.FromContext(cmd.Context()).Info("migration rolled back", "version", rolled)
			fmt.Fprintf(c.stdout, "rolled back version %d\n", rolled)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewDatabase(c.config.Storage.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := store.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "schema version %d\n", v)
			return nil
		},
	})

	return cmd
}
