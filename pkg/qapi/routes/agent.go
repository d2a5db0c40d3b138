package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/quatton/jobman/pkg/qapi/services/agent"
)

type AgentStatusOutput struct {
	Body schemas.AgentStatus
}

type RunJobInput struct {
	Body schemas.RunJobRequest
}

type RunJobOutput struct {
	Body schemas.RunJobResponse
}

type AgentJobInput struct {
	JobID string `path:"jobId" doc:"Job ID"`
}

type AgentJobOutput struct {
	Body schemas.JobResponse
}

type AgentJobResultOutput struct {
	Body schemas.JobResultResponse
}

type CancelAgentJobOutput struct {
	Body schemas.CancelJobResponse
}

type ListAgentJobsInput struct {
	Status string `query:"status" enum:"running,completed,failed,cancelled" doc:"Filter by status" required:"false"`
}

type ListAgentJobsOutput struct {
	Body []schemas.JobResponse
}

// RegisterAgent registers the worker routes. svc may be nil when only the
// OpenAPI document is needed.
func RegisterAgent(api huma.API, svc *agent.Service) {
	name := ""
	if svc != nil {
		name = svc.Name()
	}
	RegisterHealth(api, "agent", name)

	huma.Register(api, huma.Operation{
		OperationID: "agent-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Free capacity",
		Description: "Host totals minus the reservations of running jobs. Memory is in MB",
		Tags:        []string{TagAgent.String()},
	}, func(ctx context.Context, input *struct{}) (*AgentStatusOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("agent not initialised")
		}
		return &AgentStatusOutput{Body: svc.Status(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "agent-run",
		Method:        http.MethodPost,
		Path:          "/run",
		Summary:       "Start a job",
		Description:   "Writes the script, reserves the declared resources and spawns it. Returns without waiting",
		Tags:          []string{TagAgent.String()},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *RunJobInput) (*RunJobOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("agent not initialised")
		}
		resp, err := svc.Run(ctx, input.Body)
		if err != nil {
			return nil, statusError(err, huma.Error500InternalServerError)
		}
		return &RunJobOutput{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Jobs started by this agent process, oldest first",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *ListAgentJobsInput) (*ListAgentJobsOutput, error) {
		if svc == nil {
			return &ListAgentJobsOutput{Body: []schemas.JobResponse{}}, nil
		}
		jobs, err := svc.List(ctx, input.Status)
		if err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
		return &ListAgentJobsOutput{Body: jobs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobId}",
		Summary:     "Job status",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *AgentJobInput) (*AgentJobOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("agent not initialised")
		}
		job, err := svc.Job(ctx, input.JobID)
		if err != nil {
			return nil, statusError(err, huma.Error500InternalServerError)
		}
		return &AgentJobOutput{Body: *job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-get-job-result",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobId}/result",
		Summary:     "Job result",
		Description: "Status, exit code, output tails and artifacts",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *AgentJobInput) (*AgentJobResultOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("agent not initialised")
		}
		res, err := svc.Result(ctx, input.JobID)
		if err != nil {
			return nil, statusError(err, huma.Error500InternalServerError)
		}
		return &AgentJobResultOutput{Body: *res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-cancel-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{jobId}",
		Summary:     "Cancel a job",
		Description: "Kills the job's process group. 409 if it already finished",
		Tags:        []string{TagJobs.String()},
	}, func(ctx context.Context, input *AgentJobInput) (*CancelAgentJobOutput, error) {
		if svc == nil {
			return nil, huma.Error503ServiceUnavailable("agent not initialised")
		}
		resp, err := svc.Cancel(ctx, input.JobID)
		if err != nil {
			return nil, statusError(err, huma.Error500InternalServerError)
		}
		return &CancelAgentJobOutput{Body: *resp}, nil
	})
}
