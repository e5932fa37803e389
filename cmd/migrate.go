package cmd

import (
	"time"

	"drivingschool/server/internal/database"
	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/models"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the invoice tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(time.Minute)
		defer cancel()

		db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, false)
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		if err := models.AutoMigrate(db.WithContext(ctx)); err != nil {
			return err
		}
		log := logger.WithComponent("migrate")
		log.Info().Msg("Database migrations completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
