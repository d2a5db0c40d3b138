package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobman",
	Short: "jobman scheduler and agent servers",
	Long: `jobman runs either side of a small job scheduling cluster. An agent runs
scripts on its host and reports free CPU, memory and GPUs. The scheduler keeps a
list of agents, places submitted jobs on one of them and proxies job queries.
Both are configured through the environment (and .env in development).`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
