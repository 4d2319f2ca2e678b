package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parityleague/league/internal/standings"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply standings database migrations",
	Long: `Applies all pending schema migrations to the standings database
configured under storage.dsn. Safe to run repeatedly; already-applied
migrations are skipped.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for migrate")
		}
		if err := standings.Migrate(cfg.Storage.DSN); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
