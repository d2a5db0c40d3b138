package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/jobman/pkg/kv"
	"github.com/quatton/jobman/pkg/qapi/utils"
	"github.com/quatton/jobman/pkg/qart"
	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/registry"
)

// Common holds settings shared by both services.
type Common struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Common) Logger() *qlog.Logger {
	return qlog.New(qlog.ParseLevel(c.LogLevel), c.logFormat(), nil)
}

// logFormat defaults to JSON in production and text elsewhere.
func (c Common) logFormat() qlog.Format {
	if c.LogFormat == "" {
		if utils.IsProd() {
			return qlog.FormatJSON
		}
		return qlog.FormatText
	}
	return qlog.Format(strings.ToLower(c.LogFormat))
}

type AgentConfig struct {
	Common

	Port        string `envconfig:"AGENT_PORT" default:"5000"`
	Name        string `envconfig:"AGENT_NAME"`
	ScratchDir  string `envconfig:"AGENT_SCRATCH_DIR" default:"/tmp/jobs"`
	Interpreter string `envconfig:"AGENT_INTERPRETER" default:"python3"`
	NvidiaSMI   string `envconfig:"AGENT_NVIDIA_SMI" default:"nvidia-smi"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"jobman-artifacts"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

type SchedulerConfig struct {
	Common

	Port       string        `envconfig:"SCHEDULER_PORT" default:"6000"`
	Agents     []string      `envconfig:"SCHEDULER_AGENTS"`
	AgentsFile string        `envconfig:"SCHEDULER_AGENTS_FILE"`
	ProbeTO    time.Duration `envconfig:"PROBE_TIMEOUT" default:"1s"`
	ForwardTO  time.Duration `envconfig:"FORWARD_TIMEOUT" default:"5s"`
	ProxyTO    time.Duration `envconfig:"PROXY_TIMEOUT" default:"5s"`

	ValkeyAddr     string        `envconfig:"VALKEY_ADDR"`
	ValkeyPassword string        `envconfig:"VALKEY_PASSWORD"`
	ValkeyDB       int           `envconfig:"VALKEY_DB" default:"0"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

func loadDotEnv() {
	if utils.IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}
}

func validateCommon(c Common) []string {
	var errors []string
	if !utils.Known(utils.Environment()) {
		errors = append(errors, fmt.Sprintf("  ❌ ENVIRONMENT %q is not one of development, production or test", c.Environment))
	}
	switch c.logFormat() {
	case qlog.FormatText, qlog.FormatJSON:
	default:
		errors = append(errors, "  ❌ LOG_FORMAT must be text or json")
	}
	return errors
}

func ValidateAgentEnv() (*AgentConfig, error) {
	loadDotEnv()

	var cfg AgentConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	errors := validateCommon(cfg.Common)

	if cfg.ScratchDir == "" {
		errors = append(errors, "  ❌ AGENT_SCRATCH_DIR must not be empty")
	}
	if cfg.Interpreter == "" {
		errors = append(errors, "  ❌ AGENT_INTERPRETER must not be empty")
	}
	if cfg.S3Endpoint != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		errors = append(errors, "  ❌ S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return &cfg, nil
}

// S3 returns the artifact store settings.
func (c *AgentConfig) S3() qart.S3Config {
	return qart.S3Config{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
	}
}

func ValidateSchedulerEnv() (*SchedulerConfig, error) {
	loadDotEnv()

	var cfg SchedulerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	errors := validateCommon(cfg.Common)

	if len(cfg.Agents) == 0 && cfg.AgentsFile == "" {
		errors = append(errors, "  ❌ one of SCHEDULER_AGENTS or SCHEDULER_AGENTS_FILE is required")
	}
	if _, err := registry.ParseAgents(cfg.Agents); err != nil {
		errors = append(errors, fmt.Sprintf("  ❌ SCHEDULER_AGENTS: %v", err))
	}
	if cfg.ProbeTO <= 0 || cfg.ForwardTO <= 0 || cfg.ProxyTO <= 0 {
		errors = append(errors, "  ❌ PROBE_TIMEOUT, FORWARD_TIMEOUT and PROXY_TIMEOUT must be positive")
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return &cfg, nil
}

// LoadAgents returns the agents from SCHEDULER_AGENTS followed by those in
// SCHEDULER_AGENTS_FILE.
func (c *SchedulerConfig) LoadAgents() ([]registry.Agent, error) {
	agents, err := registry.ParseAgents(c.Agents)
	if err != nil {
		return nil, err
	}
	if c.AgentsFile != "" {
		fromFile, err := registry.LoadAgentsFile(c.AgentsFile)
		if err != nil {
			return nil, err
		}
		agents = append(agents, fromFile...)
	}
	seen := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		if _, dup := seen[a.Name]; dup {
			return nil, fmt.Errorf("agent %q is declared twice", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return agents, nil
}

// Valkey returns the idempotency store settings. Enabled is false when no address is set.
func (c *SchedulerConfig) Valkey() (cfg kv.ValkeyConfig, enabled bool) {
	return kv.ValkeyConfig{
		Addr:     c.ValkeyAddr,
		Password: c.ValkeyPassword,
		DB:       c.ValkeyDB,
		Prefix:   "jobman:idem:",
	}, c.ValkeyAddr != ""
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *AgentConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Agent configuration:\n")
	fmtr("  Environment: %s\n", utils.Environment())
	fmtr("  Port: %s\n", c.Port)
	if c.Name != "" {
		fmtr("  Name: %s\n", c.Name)
	}
	fmtr("  Scratch dir: %s\n", c.ScratchDir)
	fmtr("  Interpreter: %s\n", c.Interpreter)
	fmtr("  Log: %s/%s\n", c.LogLevel, c.logFormat())

	if c.S3().Enabled() {
		fmtr("  Artifacts: ✓ Enabled (%s/%s)\n", c.S3Endpoint, c.S3Bucket)
		fmtr("    Access Key: %s\n", MaskSecret(c.S3AccessKey))
		fmtr("    Secret Key: %s\n", MaskSecret(c.S3SecretKey))
	} else {
		fmtr("  Artifacts: ✗ Disabled\n")
	}
}

func (c *SchedulerConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Scheduler configuration:\n")
	fmtr("  Environment: %s\n", utils.Environment())
	fmtr("  Port: %s\n", c.Port)
	if len(c.Agents) > 0 {
		fmtr("  Agents: %s\n", strings.Join(c.Agents, ", "))
	}
	if c.AgentsFile != "" {
		fmtr("  Agents file: %s\n", c.AgentsFile)
	}
	fmtr("  Timeouts: probe=%s forward=%s proxy=%s\n", c.ProbeTO, c.ForwardTO, c.ProxyTO)
	fmtr("  Log: %s/%s\n", c.LogLevel, c.logFormat())

	if c.ValkeyAddr != "" {
		fmtr("  Idempotency: ✓ Valkey %s (db %d, ttl %s)\n", c.ValkeyAddr, c.ValkeyDB, c.IdempotencyTTL)
		fmtr("    Password: %s\n", MaskSecret(c.ValkeyPassword))
	} else {
		fmtr("  Idempotency: in-memory (ttl %s)\n", c.IdempotencyTTL)
	}
}
