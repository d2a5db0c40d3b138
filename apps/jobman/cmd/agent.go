package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/quatton/jobman/pkg/qapi"
	"github.com/quatton/jobman/pkg/qapi/config"
	"github.com/quatton/jobman/pkg/qapi/routes"
	"github.com/quatton/jobman/pkg/qapi/services"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a job agent on this host",
	Long: `Starts the agent HTTP server. Jobs are written under AGENT_SCRATCH_DIR and
executed with AGENT_INTERPRETER. When S3_ENDPOINT is set, each finished job's
script and logs are uploaded to S3_BUCKET.`,
	Args: cobra.NoArgs,
	Run:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg, err := config.ValidateAgentEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	cfg.Print(log.Printf)
	logger := cfg.Logger()

	agt, err := services.NewAgent(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize agent", "error", err)
	}
	defer func() {
		if err := agt.Close(); err != nil {
			logger.Warn("stopping jobs", "error", err)
		}
	}()

	api := qapi.NewApi("jobman agent")
	routes.RegisterAgent(api.Api, agt.Service)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("🚀 Agent %s starting on %s\n", agt.Service.Name(), addr)
	log.Printf("📚 OpenAPI docs: http://localhost%s/docs\n", addr)

	srv := &http.Server{Addr: addr, Handler: api.Router}
	if err := serve(ctx, srv, logger); err != nil {
		logger.Error("server error", "error", err)
	}
}
