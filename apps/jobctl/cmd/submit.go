package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/spf13/cobra"
)

var (
	submitCPU            int
	submitMemory         int
	submitGPU            int
	submitIdempotencyKey string
	submitWait           bool
	submitPollInterval   time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <script>",
	Short: "Submit a script to the scheduler",
	Long: `Submit reads the script file and sends it to the scheduler. When any of
--cpu, --memory or --gpu is given, only an agent with that much free capacity
is chosen; otherwise any live agent takes the job.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		code, err := os.ReadFile(args[0])
		if err != nil {
			exitIfSdkError(fmt.Errorf("reading script: %w", err))
		}

		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}

		req := schemas.SubmitRequest{Code: string(code)}
		flags := cmd.Flags()
		if flags.Changed("cpu") || flags.Changed("memory") || flags.Changed("gpu") {
			req.Resources = &schemas.ResourceSpec{CPU: submitCPU, Memory: submitMemory, GPU: submitGPU}
		}

		resp, err := client.Submit(cmd.Context(), req, submitIdempotencyKey)
		if err != nil {
			exitIfSdkError(err)
		}

		if !submitWait {
			printJSON(resp)
			return
		}

		fmt.Fprintf(os.Stderr, "⏳ Waiting for %s\n", resp.JobID)
		for {
			doc, err := client.Status(cmd.Context(), resp.JobID)
			if err != nil {
				exitIfSdkError(err)
			}
			switch doc["status"] {
			case "completed", "failed", "cancelled":
				result, err := client.Result(cmd.Context(), resp.JobID)
				if err != nil {
					exitIfSdkError(err)
				}
				printJSON(result)
				if doc["status"] != "completed" {
					os.Exit(1)
				}
				return
			}
			time.Sleep(submitPollInterval)
		}
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().IntVar(&submitCPU, "cpu", 0, "CPU cores to reserve")
	submitCmd.Flags().IntVar(&submitMemory, "memory", 0, "Memory to reserve in MB")
	submitCmd.Flags().IntVar(&submitGPU, "gpu", 0, "GPUs to reserve")
	submitCmd.Flags().StringVar(&submitIdempotencyKey, "idempotency-key", "", "Makes retried submissions return the first job id")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait for the job to finish and print its result")
	submitCmd.Flags().DurationVar(&submitPollInterval, "poll-interval", time.Second, "Status poll interval with --wait")
}
