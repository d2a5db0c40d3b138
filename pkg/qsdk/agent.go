package qsdk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quatton/jobman/pkg/qapi/schemas"
)

// AgentClient talks to a single agent.
type AgentClient struct {
	client
}

func NewAgentClient(baseURL string, opts ...ClientOption) *AgentClient {
	return &AgentClient{client: newClient(baseURL, opts...)}
}

// Status returns the agent's free capacity.
func (c *AgentClient) Status(ctx context.Context) (*schemas.AgentStatus, error) {
	var out schemas.AgentStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run asks the agent to start a job. It returns once the agent has spawned it.
func (c *AgentClient) Run(ctx context.Context, req schemas.RunJobRequest) (*schemas.RunJobResponse, error) {
	var out schemas.RunJobResponse
	if err := c.do(ctx, http.MethodPost, "/run", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob decodes the agent's view of a job into out. out may be a
// *schemas.JobResponse or a *map[string]any for verbatim proxying.
func (c *AgentClient) GetJob(ctx context.Context, jobID string, out any) error {
	p, err := pathParam("jobId", jobID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, "/jobs/"+p, nil, nil, out)
}

// GetResult decodes the job's result into out, see GetJob.
func (c *AgentClient) GetResult(ctx context.Context, jobID string, out any) error {
	p, err := pathParam("jobId", jobID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/jobs/%s/result", p), nil, nil, out)
}

// CancelJob asks the agent to kill a running job.
func (c *AgentClient) CancelJob(ctx context.Context, jobID string, out any) error {
	p, err := pathParam("jobId", jobID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/jobs/"+p, nil, nil, out)
}

// ListJobs returns every job the agent knows about.
func (c *AgentClient) ListJobs(ctx context.Context) ([]schemas.JobResponse, error) {
	var out []schemas.JobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
