package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/quatton/jobman/pkg/qsdk"
	"github.com/spf13/cobra"
)

type contextKey string

const configContextKey contextKey = "jobmanconfig"

var (
	cfgFile        string
	hostFlag       string
	requestTimeout time.Duration

	rootCmd = &cobra.Command{
		Use:   "jobctl",
		Short: "CLI for submitting and inspecting jobman jobs",
		Long: `jobctl talks to a jobman scheduler. It submits scripts, follows their
status and result, cancels them, and lists jobs and agents. The scheduler
address comes from --host, JOBMAN_HOST, ./.jobmanrc.yaml or ~/.jobmanrc.yaml,
in that order.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if hostFlag != "" {
				cfg = cfg.WithHost(hostFlag)
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*qsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func schedulerClient(cmd *cobra.Command) (*qsdk.SchedulerClient, error) {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return nil, err
	}
	return qsdk.NewSchedulerClientFromConfig(cfg, qsdk.WithTimeout(requestTimeout)), nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Default: ~/.jobmanrc.yaml merged with ./.jobmanrc.yaml")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Scheduler URL (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "Per-request timeout")
}
