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

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scheduler",
	Long: `Starts the scheduler HTTP server. Agents come from SCHEDULER_AGENTS
(name=url,...) and SCHEDULER_AGENTS_FILE. When VALKEY_ADDR is set, idempotency
keys are kept in Valkey instead of process memory.`,
	Args: cobra.NoArgs,
	Run:  runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) {
	cfg, err := config.ValidateSchedulerEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	cfg.Print(log.Printf)
	logger := cfg.Logger()

	sched, err := services.NewScheduler(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize scheduler", "error", err)
	}
	defer sched.Close()

	if len(sched.Agents) == 0 {
		logger.Warn("no agents configured, every submission will fail with 503")
	}
	for _, a := range sched.Agents {
		logger.Info("agent registered", "name", a.Name, "url", a.URL)
	}

	api := qapi.NewApi("jobman scheduler")
	routes.RegisterScheduler(api.Api, sched.Service)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("🚀 Scheduler starting on %s\n", addr)
	log.Printf("📚 OpenAPI docs: http://localhost%s/docs\n", addr)

	srv := &http.Server{Addr: addr, Handler: api.Router}
	if err := serve(cmd.Context(), srv, logger); err != nil {
		logger.Error("server error", "error", err)
	}
}
