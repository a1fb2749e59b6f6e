package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"nyiyui.ca/hato/junkan/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "junkan",
		Short: "Run trains around shared track without collisions",
		Long: `junkan simulates trains running laps around circuits that share track segments.

Each segment holds at most one train. Trains wait for each other at shared
segments; their speed can be changed while they run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logPath, _ := cmd.Flags().GetString("log")
			return setupLogging(level, logPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			zap.S().Sync()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (JSON, or YAML if it ends in .yaml/.yml); defaults to the junction layout")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log", "stderr", "Where to write logs")

	rootCmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newCheckCmd(),
		newAuditCmd(),
	)
	return rootCmd
}

func setupLogging(level, path string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.OutputPaths = []string{path}
	dev, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(dev)
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	return c, nil
}
