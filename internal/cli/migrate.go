package cli

import (
	"github.com/spf13/cobra"

	"github.com/mohans/reportq/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := migrations.Up(db, cfg.DBDriver, logger); err != nil {
			return err
		}
		logger.Info("migrations applied", "driver", cfg.DBDriver)
		return nil
	},
}
