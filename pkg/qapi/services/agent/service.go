// Package agent implements the worker side: capacity reporting and job execution.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/quatton/jobman/pkg/qart"
	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qrunner"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
)

// ArtifactURLExpiry is how long presigned artifact links stay valid.
const ArtifactURLExpiry = time.Hour

type Service struct {
	name      string
	monitor   *qres.Monitor
	runner    qrunner.Runner
	artifacts qart.Store // nil when artifact storage is disabled
	logger    *qlog.Logger
}

func NewService(name string, monitor *qres.Monitor, runner qrunner.Runner, artifacts qart.Store, logger *qlog.Logger) *Service {
	if logger == nil {
		logger = qlog.Discard()
	}
	return &Service{
		name:      name,
		monitor:   monitor,
		runner:    runner,
		artifacts: artifacts,
		logger:    logger,
	}
}

func (s *Service) Name() string {
	return s.name
}

// Status reports free capacity. It never fails: hardware query problems
// degrade to zero GPUs inside the monitor.
func (s *Service) Status(ctx context.Context) schemas.AgentStatus {
	return schemas.NewAgentStatus(s.monitor.Capacity(ctx))
}

// Run starts the script and returns once it is spawned. The agent does not
// re-check capacity: the scheduler already chose it.
func (s *Service) Run(ctx context.Context, req schemas.RunJobRequest) (*schemas.RunJobResponse, error) {
	run, err := s.runner.Start(ctx, qrunner.JobSpec{
		ID:        req.JobID,
		Script:    req.Script,
		Resources: req.Resources.Request(),
	})
	if err != nil {
		if errors.Is(err, qrunner.ErrRunExists) {
			return nil, qerr.New(qerr.CodeConflict, err)
		}
		return nil, err
	}
	return &schemas.RunJobResponse{Status: "started", JobID: run.ID}, nil
}

func (s *Service) Job(ctx context.Context, jobID string) (*schemas.JobResponse, error) {
	run, err := s.runner.GetRun(ctx, jobID)
	if err != nil {
		return nil, mapRunErr(err)
	}
	resp := ToJobResponse(run)
	return &resp, nil
}

// Result returns the status plus output tails, with presigned links for
// uploaded artifacts when storage is configured.
func (s *Service) Result(ctx context.Context, jobID string) (*schemas.JobResultResponse, error) {
	res, err := s.runner.Result(ctx, jobID)
	if err != nil {
		return nil, mapRunErr(err)
	}

	artifacts := make([]schemas.JobArtifact, 0, len(res.Run.Artifacts))
	for _, a := range res.Run.Artifacts {
		out := schemas.JobArtifact{
			Key:         a.Key,
			Filename:    a.Filename,
			Size:        a.Size,
			ContentType: a.ContentType,
		}
		if s.artifacts != nil {
			url, err := s.artifacts.PresignJobFile(ctx, res.Run.ID, a.Filename, ArtifactURLExpiry)
			if err != nil {
				s.logger.Warn("presigning artifact failed", "job_id", jobID, "key", a.Key, "error", err)
			} else {
				out.URL = url
			}
		}
		artifacts = append(artifacts, out)
	}

	return &schemas.JobResultResponse{
		JobID:     res.Run.ID,
		Status:    string(res.Run.Status),
		ExitCode:  res.Run.ExitCode,
		Error:     res.Run.Error,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Artifacts: artifacts,
	}, nil
}

func (s *Service) Cancel(ctx context.Context, jobID string) (*schemas.CancelJobResponse, error) {
	if err := s.runner.Cancel(ctx, jobID); err != nil {
		return nil, mapRunErr(err)
	}
	s.logger.Info("job cancel requested", "job_id", jobID)
	return &schemas.CancelJobResponse{JobID: jobID, Status: "cancelling"}, nil
}

// List returns the jobs started by this agent process, oldest first.
func (s *Service) List(ctx context.Context, status string) ([]schemas.JobResponse, error) {
	var filter *qrunner.RunStatus
	if status != "" {
		st := qrunner.RunStatus(status)
		filter = &st
	}
	runs, err := s.runner.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.JobResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, ToJobResponse(run))
	}
	return out, nil
}

func mapRunErr(err error) error {
	switch {
	case errors.Is(err, qrunner.ErrRunNotFound):
		return qerr.New(qerr.CodeNotFound, err)
	case errors.Is(err, qrunner.ErrRunFinished):
		return qerr.New(qerr.CodeConflict, err)
	default:
		return err
	}
}

// ToJobResponse converts a qrunner.Run to its wire form
func ToJobResponse(run *qrunner.Run) schemas.JobResponse {
	resp := schemas.JobResponse{
		JobID:      run.ID,
		Status:     string(run.Status),
		ExitCode:   run.ExitCode,
		Error:      run.Error,
		CPU:        run.CPU,
		Memory:     run.MemoryMB,
		GPU:        run.GPU,
		GPUIndices: run.GPUIndices,
		CreatedAt:  run.CreatedAt.Format(time.RFC3339),
	}
	if resp.GPUIndices == nil {
		resp.GPUIndices = []int{}
	}

	if run.StartedAt != nil {
		startedAt := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &startedAt
	}

	if run.FinishedAt != nil {
		finishedAt := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finishedAt
	}

	return resp
}
