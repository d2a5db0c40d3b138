package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status as reported by its agent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}
		doc, err := client.Status(cmd.Context(), args[0])
		if err != nil {
			exitIfSdkError(err)
		}
		printJSON(doc)
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Show a job's exit code and output",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}
		doc, err := client.Result(cmd.Context(), args[0])
		if err != nil {
			exitIfSdkError(err)
		}
		printJSON(doc)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}
		doc, err := client.Cancel(cmd.Context(), args[0])
		if err != nil {
			exitIfSdkError(err)
		}
		printJSON(doc)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(cancelCmd)
}
