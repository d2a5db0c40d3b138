package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quatton/jobman/pkg/qapi"
	"github.com/quatton/jobman/pkg/qapi/routes"
	"github.com/spf13/cobra"
)

// openapiCmd represents the openapi command
var openapiCmd = &cobra.Command{
	Use:     "openapi",
	Aliases: []string{"spec"},
	Short:   "Generate OpenAPI specification",
	Long:    `Outputs the OpenAPI document for the agent or scheduler API without touching hardware, agents or storage.`,
	Args:    cobra.NoArgs,
	Run:     generateOpenAPI,
}

var (
	openapiService   string
	openapiOutput    string
	openapiDowngrade bool
)

func init() {
	rootCmd.AddCommand(openapiCmd)
	openapiCmd.Flags().StringVarP(&openapiService, "service", "s", "scheduler", "Which API to describe: agent or scheduler")
	openapiCmd.Flags().StringVarP(&openapiOutput, "output", "o", "", "Write output to file (default stdout)")
	openapiCmd.Flags().BoolVar(&openapiDowngrade, "downgrade", true, "Downgrade OpenAPI to 3.0 when generating the spec")
}

func generateOpenAPI(cmd *cobra.Command, args []string) {
	var api *qapi.Api
	switch openapiService {
	case "agent":
		api = qapi.NewApi("jobman agent")
		routes.RegisterAgent(api.Api, nil)
	case "scheduler":
		api = qapi.NewApi("jobman scheduler")
		routes.RegisterScheduler(api.Api, nil)
	default:
		fmt.Fprintf(os.Stderr, "Unknown service %q (want agent or scheduler)\n", openapiService)
		os.Exit(1)
	}

	var (
		spec []byte
		err  error
	)

	if openapiDowngrade {
		spec, err = api.Api.OpenAPI().Downgrade()
	} else {
		spec, err = json.Marshal(api.Api.OpenAPI())
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate OpenAPI spec: %v\n", err)
		os.Exit(1)
	}

	if openapiOutput == "" {
		fmt.Println(string(spec))
		return
	}

	if err := os.WriteFile(openapiOutput, spec, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write OpenAPI spec to %s: %v\n", openapiOutput, err)
		os.Exit(1)
	}
}
