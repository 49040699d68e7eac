package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/rankyak-pipeline/internal/logging"
	pgstore "github.com/JakeFAU/rankyak-pipeline/internal/storage/postgres"
)

// migrateFn applies migrations; tests swap it out.
var migrateFn = pgstore.Migrate

func newMigrateCmd() *cobra.Command {
	var (
		steps int
		list  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies the embedded Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				names, err := pgstore.MigrationNames()
				if err != nil {
					return fmt.Errorf("list migrations: %w", err)
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			if err := migrateFn(cfg.DB.DSN, steps, logger.Named("migrate")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "roll back this many migrations when negative")
	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations and exit")
	return cmd
}
