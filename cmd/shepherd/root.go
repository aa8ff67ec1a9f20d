// Package main provides the entry point for the shepherd daemon.
package main

import (
	"github.com/spf13/cobra"

	"github.com/metalagman/shepherd/internal/daemon"
	"github.com/metalagman/shepherd/internal/logging"
	"github.com/metalagman/shepherd/internal/state"
)

var (
	projectRoot string
	rootCmd     = &cobra.Command{
		Use:          "shepherd",
		Short:        "shepherd drives an external coding agent through a plan of tasks",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runShepherd,
	}
)

// Execute runs the root command.
func Execute() error {
	rootCmd.Flags().StringVar(&projectRoot, "project-root", "", "path to target project root")
	if err := rootCmd.MarkFlagRequired("project-root"); err != nil {
		return err
	}
	return rootCmd.Execute()
}

func runShepherd(cmd *cobra.Command, _ []string) error {
	bootstrap, err := state.New(projectRoot)
	if err != nil {
		return err
	}
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	store, err := state.NewConfigured(projectRoot, cfg, bootstrap.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := logging.Open(cfg.LogLevel, cfg.LogFile, store.ProjectRoot)
	if err != nil {
		return err
	}
	return daemon.New(logger, cfg, store).Run(cmd.Context())
}
