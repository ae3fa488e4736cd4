package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var envFileFlag string
	var jsonFlag bool

	ctx := newCommandContext(&envFileFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "clover",
		Short:         "Duplicate venue detection and merging",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureLogger()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Path to a .env file loaded before the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	for _, cmd := range newDetectCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range newMergeCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newVersionCommand(ctx))

	return rootCmd
}

func newVersionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]string{"app": cfg.AppName, "version": cfg.Version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.AppName, cfg.Version)
			return nil
		},
	}
}
