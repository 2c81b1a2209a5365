package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and show what will be monitored",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid.")
		fmt.Fprintln(out, "")

		platforms := cfg.ProviderConfigs()
		if len(platforms) == 0 {
			fmt.Fprintln(out, "Platforms: none configured")
		} else {
			fmt.Fprintln(out, "Platforms:")
			for _, pc := range platforms {
				fmt.Fprintf(out, "  • %s\n", pc.Kind.DisplayName())
			}
		}
		fmt.Fprintf(out, "Warehouse:     %s\n", cfg.Database.Provider)
		fmt.Fprintf(out, "Notifications: %s\n", cfg.Notification.Provider)
		fmt.Fprintf(out, "Interval:      %d minutes\n\n", cfg.Monitoring.IntervalMinutes)

		if show, _ := cmd.Flags().GetBool("show"); show {
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Fprint(out, string(data))
		}
		return nil
	},
}

func init() {
	configCheckCmd.Flags().Bool("show", false, "Print the effective configuration with secrets masked")
	configCmd.AddCommand(configCheckCmd)
}
