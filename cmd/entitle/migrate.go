package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.Store, err)
			}

			logger.Info("migrations applied", "store", cfg.Store)
			fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store)
			return nil
		},
	}
}
