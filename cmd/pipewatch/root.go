package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/config"
	"github.com/alphauslabs/pipewatch/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pipewatch",
	Short: "Data pipeline job monitor",
	Long: "-------------------------------------------------------------------\n" +
		"                           pipewatch\n" +
		"-------------------------------------------------------------------\n" +
		"Monitors Airbyte, Databricks, Power Automate and Snowflake task runs,\n" +
		"assesses their health, stores the results and sends notifications.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (or LOG_LEVEL env var)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console (or LOG_FORMAT env var)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads the configuration and builds the logger from it and the
// global flags.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
