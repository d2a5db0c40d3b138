package services

import (
	"context"
	"fmt"
	"os"

	"github.com/quatton/jobman/pkg/directory"
	"github.com/quatton/jobman/pkg/kv"
	"github.com/quatton/jobman/pkg/qapi/config"
	"github.com/quatton/jobman/pkg/qapi/services/agent"
	"github.com/quatton/jobman/pkg/qapi/services/scheduler"
	"github.com/quatton/jobman/pkg/qart"
	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qrunner"
	"github.com/quatton/jobman/pkg/registry"
)

// Agent bundles the agent service with what must be shut down alongside it.
type Agent struct {
	Service *agent.Service
	Runner  *qrunner.LocalRunner
}

// Close kills jobs that are still running.
func (a *Agent) Close() error {
	return a.Runner.Close()
}

func NewAgent(ctx context.Context, cfg *config.AgentConfig, logger *qlog.Logger) (*Agent, error) {
	name := cfg.Name
	if name == "" {
		if host, err := os.Hostname(); err == nil {
			name = host
		}
	}

	monitor := qres.NewMonitor(
		qres.SystemInventory{NvidiaSMI: cfg.NvidiaSMI},
		qres.WithLogger(logger.Component("monitor")),
	)
	// Probe the hardware now so the first status call is fast
	monitor.Host(ctx)

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	opts := []qrunner.LocalRunnerOption{
		qrunner.WithBaseDir(cfg.ScratchDir),
		qrunner.WithInterpreter(cfg.Interpreter),
		qrunner.WithMonitor(monitor),
		qrunner.WithLogger(logger.Component("runner")),
	}

	var artifacts qart.Store
	if s3cfg := cfg.S3(); s3cfg.Enabled() {
		store, err := qart.NewS3Store(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("creating artifact store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn("artifact bucket unavailable, uploads disabled", "bucket", s3cfg.Bucket, "error", err)
		} else {
			artifacts = store
			opts = append(opts, qrunner.WithArtifactStore(store))
		}
	}

	runner := qrunner.NewLocalRunner(opts...)
	svc := agent.NewService(name, monitor, runner, artifacts, logger.Component("agent"))
	return &Agent{Service: svc, Runner: runner}, nil
}

// Scheduler bundles the scheduler service with its idempotency store.
type Scheduler struct {
	Service *scheduler.Service
	Agents  []registry.Agent
	kv      kv.Store
}

func (s *Scheduler) Close() error {
	return s.kv.Close()
}

func NewScheduler(ctx context.Context, cfg *config.SchedulerConfig, logger *qlog.Logger) (*Scheduler, error) {
	agents, err := cfg.LoadAgents()
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}

	reg := registry.New(agents,
		registry.WithProbeTimeout(cfg.ProbeTO),
		registry.WithLogger(logger.Component("registry")),
	)

	var store kv.Store
	if vcfg, ok := cfg.Valkey(); ok {
		store, err = kv.NewValkeyStore(ctx, vcfg)
		if err != nil {
			return nil, fmt.Errorf("connecting idempotency store: %w", err)
		}
	} else {
		store = kv.NewMemoryStore()
	}

	svc := scheduler.NewService(reg, directory.NewMemoryStore(), store, scheduler.Options{
		ForwardTimeout: cfg.ForwardTO,
		ProxyTimeout:   cfg.ProxyTO,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger.Component("scheduler"),
	})
	return &Scheduler{Service: svc, Agents: agents, kv: store}, nil
}
