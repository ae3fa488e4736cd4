package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			a := &app{cfg: cfg, logger: logger}
			defer a.Close()
			if err := a.connectDatabase(cmd.Context()); err != nil {
				return err
			}
			if err := a.migrate(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied from %s\n", cfg.DatabaseMigrationFolderPath)
			return nil
		},
	}
}
