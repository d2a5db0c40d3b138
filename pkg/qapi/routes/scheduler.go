package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/quatton/jobman/pkg/qapi/services/scheduler"
)

type SubmitInput struct {
	IdempotencyKey string `header:"Idempotency-Key" doc:"Repeating a key within its TTL returns the first job id" required:"false"`
	Body           schemas.SubmitRequest
}

type SubmitOutput struct {
	Body schemas.SubmitResponse
}

type JobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// ProxyOutput carries an agent's JSON document unchanged
type ProxyOutput struct {
	Body map[string]any
}

type ListJobsOutput struct {
	Body []schemas.JobSummary
}

type ListAgentsOutput struct {
	Body []schemas.AgentInfo
}

// RegisterScheduler registers the scheduler routes. svc may be nil when only
// the OpenAPI document is needed.
func RegisterScheduler(api huma.API, svc *scheduler.Service) {
	RegisterHealth(api, "scheduler", "")

	huma.Register(api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/submit",
		Summary:       "Submit a job",
		Description:   "Places the job on an agent and forwards it. With resources only an agent whose free capacity covers them is chosen",
		Tags:          []string{TagScheduler.String()},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *SubmitInput) (*SubmitOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("scheduler not initialised")
		}
		resp, err := svc.Submit(ctx, input.Body, input.IdempotencyKey)
		if err != nil {
			return nil, statusError(err, huma.Error500InternalServerError)
		}
		return &SubmitOutput{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-status",
		Method:      http.MethodGet,
		Path:        "/job/{id}/status",
		Summary:     "Job status",
		Description: "The status document of the agent running the job",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *JobInput) (*ProxyOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("scheduler not initialised")
		}
		doc, err := svc.JobStatus(ctx, input.ID)
		if err != nil {
			return nil, statusError(err, huma.Error502BadGateway)
		}
		return &ProxyOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-result",
		Method:      http.MethodGet,
		Path:        "/job/{id}/result",
		Summary:     "Job result",
		Description: "The result document of the agent running the job",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *JobInput) (*ProxyOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("scheduler not initialised")
		}
		doc, err := svc.JobResult(ctx, input.ID)
		if err != nil {
			return nil, statusError(err, huma.Error502BadGateway)
		}
		return &ProxyOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodDelete,
		Path:        "/job/{id}",
		Summary:     "Cancel a job",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *JobInput) (*ProxyOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("scheduler not initialised")
		}
		doc, err := svc.Cancel(ctx, input.ID)
		if err != nil {
			return nil, statusError(err, huma.Error502BadGateway)
		}
		return &ProxyOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Every accepted job in submission order with its last known status",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *struct{}) (*ListJobsOutput, error) {
		if svc == nil {
			return &ListJobsOutput{Body: []schemas.JobSummary{}}, nil
		}
		return &ListJobsOutput{Body: svc.Jobs()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
		Description: "Registered agents with a live probe of each",
		Tags:        []string{TagScheduler.String()},
	}, func(ctx context.Context, input *struct{}) (*ListAgentsOutput, error) {
		if svc == nil {
			return &ListAgentsOutput{Body: []schemas.AgentInfo{}}, nil
		}
		return &ListAgentsOutput{Body: svc.Agents(ctx)}, nil
	})
}
