package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the configured scheduler answers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := GetConfig(cmd)
		if err != nil {
			exitIfSdkError(err)
		}
		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}

		if used := cfg.ConfigFileUsed(); used != "" {
			fmt.Printf("Config: %s\n", used)
		}
		resp, err := client.Health(cmd.Context())
		if err != nil {
			exitIfSdkError(err)
		}
		fmt.Printf("✓ %s %s at %s\n", resp.Service, resp.Status, client.BaseURL())
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
