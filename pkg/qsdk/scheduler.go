package qsdk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quatton/jobman/pkg/qapi/schemas"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// SchedulerClient is the client used by jobctl.
type SchedulerClient struct {
	client
}

func NewSchedulerClient(baseURL string, opts ...ClientOption) *SchedulerClient {
	return &SchedulerClient{client: newClient(baseURL, opts...)}
}

// NewSchedulerClientFromConfig builds a client for the configured host.
func NewSchedulerClientFromConfig(cfg *Config, opts ...ClientOption) *SchedulerClient {
	return NewSchedulerClient(cfg.Host, opts...)
}

// Submit sends a job. A non-empty idempotencyKey makes retries safe.
func (c *SchedulerClient) Submit(ctx context.Context, req schemas.SubmitRequest, idempotencyKey string) (*schemas.SubmitResponse, error) {
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{IdempotencyKeyHeader: []string{idempotencyKey}}
	}
	var out schemas.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/submit", header, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the agent's status document for the job, as proxied by the scheduler.
func (c *SchedulerClient) Status(ctx context.Context, jobID string) (map[string]any, error) {
	return c.jobDoc(ctx, http.MethodGet, jobID, "/status")
}

// Result returns the agent's result document for the job.
func (c *SchedulerClient) Result(ctx context.Context, jobID string) (map[string]any, error) {
	return c.jobDoc(ctx, http.MethodGet, jobID, "/result")
}

// Cancel asks the scheduler to cancel the job on its agent.
func (c *SchedulerClient) Cancel(ctx context.Context, jobID string) (map[string]any, error) {
	return c.jobDoc(ctx, http.MethodDelete, jobID, "")
}

func (c *SchedulerClient) jobDoc(ctx context.Context, method, jobID, suffix string) (map[string]any, error) {
	p, err := pathParam("id", jobID)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.do(ctx, method, fmt.Sprintf("/job/%s%s", p, suffix), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Jobs lists the scheduler's job directory in submission order.
func (c *SchedulerClient) Jobs(ctx context.Context) ([]schemas.JobSummary, error) {
	var out []schemas.JobSummary
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Agents lists registered agents with a fresh probe of each.
func (c *SchedulerClient) Agents(ctx context.Context) ([]schemas.AgentInfo, error) {
	var out []schemas.AgentInfo
	if err := c.do(ctx, http.MethodGet, "/agents", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks that the scheduler is up.
func (c *SchedulerClient) Health(ctx context.Context) (*schemas.HealthResponse, error) {
	var out schemas.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
