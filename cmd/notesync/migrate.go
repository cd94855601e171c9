package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/xaenox/notesync/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Database.UseInMemory {
			return errors.New("migrate needs a PostgreSQL database")
		}

		pg, err := storage.NewPostgresStorage(cmd.Context(), cfg.Database.DSN(), logger)
		if err != nil {
			return err
		}
		defer pg.Close()

		return storage.Migrate(cmd.Context(), pg.DB(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
