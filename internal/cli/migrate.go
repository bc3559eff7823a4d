package cli

import (
	"fmt"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

// migrateCmd 建立 Postgres 快取與額度資料表
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres cache and usage tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}

		pool, err := database.Connect(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "✓ Migration complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
