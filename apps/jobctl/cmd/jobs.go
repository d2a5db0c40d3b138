package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the scheduler's jobs",
}

var jobsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List jobs in submission order",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}
		jobs, err := client.Jobs(cmd.Context())
		if err != nil {
			exitIfSdkError(err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tSTATUS\tAGENT")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", j.JobID, j.Status, j.Agent)
		}
		w.Flush()
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents with their free capacity",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := schedulerClient(cmd)
		if err != nil {
			exitIfSdkError(err)
		}
		agents, err := client.Agents(cmd.Context())
		if err != nil {
			exitIfSdkError(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tURL\tREACHABLE\tCPU FREE\tMEM FREE (MB)\tGPU FREE")
		for _, a := range agents {
			if a.Capacity == nil {
				fmt.Fprintf(w, "%s\t%s\t✗\t-\t-\t-\n", a.Name, a.URL)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t✓\t%d\t%d\t%d %v\n", a.Name, a.URL,
				a.Capacity.CPUFree, a.Capacity.MemFree, a.Capacity.GPUFree, a.Capacity.GPUAvailable)
		}
		w.Flush()
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(agentsCmd)
}
