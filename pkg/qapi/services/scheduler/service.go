// Package scheduler implements job placement, forwarding and the proxied
// status/result queries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/jobman/pkg/directory"
	"github.com/quatton/jobman/pkg/kv"
	"github.com/quatton/jobman/pkg/placement"
	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qsdk"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
	"github.com/quatton/jobman/pkg/registry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultForwardTimeout = 5 * time.Second
	DefaultProxyTimeout   = 5 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour

	// pendingTTL bounds how long a crashed submission keeps its key locked.
	pendingTTL    = time.Minute
	pendingMarker = "\x00pending"

	probeConcurrency = 8
)

type Options struct {
	ForwardTimeout time.Duration
	ProxyTimeout   time.Duration
	IdempotencyTTL time.Duration
	HTTPClient     *http.Client
	Logger         *qlog.Logger
}

type Service struct {
	registry *registry.Registry
	selector *placement.Selector
	jobs     directory.Store
	idem     kv.Store // nil disables Idempotency-Key handling

	forwardTimeout time.Duration
	proxyTimeout   time.Duration
	idemTTL        time.Duration
	hc             *http.Client
	logger         *qlog.Logger
}

func NewService(reg *registry.Registry, jobs directory.Store, idem kv.Store, opts Options) *Service {
	s := &Service{
		registry:       reg,
		jobs:           jobs,
		idem:           idem,
		forwardTimeout: DefaultForwardTimeout,
		proxyTimeout:   DefaultProxyTimeout,
		idemTTL:        DefaultIdempotencyTTL,
		hc:             http.DefaultClient,
		logger:         qlog.Discard(),
	}
	if opts.ForwardTimeout > 0 {
		s.forwardTimeout = opts.ForwardTimeout
	}
	if opts.ProxyTimeout > 0 {
		s.proxyTimeout = opts.ProxyTimeout
	}
	if opts.IdempotencyTTL > 0 {
		s.idemTTL = opts.IdempotencyTTL
	}
	if opts.HTTPClient != nil {
		s.hc = opts.HTTPClient
	}
	if opts.Logger != nil {
		s.logger = opts.Logger
	}
	s.selector = placement.NewSelector(reg, s.logger)
	return s
}

func (s *Service) agentClient(url string, timeout time.Duration) *qsdk.AgentClient {
	return qsdk.NewAgentClient(url, qsdk.WithHTTPClient(s.hc), qsdk.WithTimeout(timeout))
}

// Submit places and forwards a job. A failed placement or forward leaves no
// record behind. When idempotencyKey is set, a repeat within the TTL returns
// the first job id without placing again.
func (s *Service) Submit(ctx context.Context, req schemas.SubmitRequest, idempotencyKey string) (*schemas.SubmitResponse, error) {
	if idempotencyKey == "" || s.idem == nil {
		return s.submit(ctx, req)
	}

	key := "submit:" + idempotencyKey
	claimed, err := s.idem.SetNX(ctx, key, []byte(pendingMarker), pendingTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	if !claimed {
		prev, err := s.idem.Get(ctx, key)
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		if err != nil || string(prev) == pendingMarker {
			return nil, qerr.Errorf(qerr.CodeConflict, "a submission with idempotency key %q is in progress", idempotencyKey)
		}
		s.logger.Info("idempotent submission replayed", "key", idempotencyKey, "job_id", string(prev))
		return &schemas.SubmitResponse{JobID: string(prev)}, nil
	}

	resp, err := s.submit(ctx, req)
	// The key outlives the request either way
	storeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if delErr := s.idem.Delete(storeCtx, key); delErr != nil {
			s.logger.Warn("releasing idempotency key failed", "key", idempotencyKey, "error", delErr)
		}
		return nil, err
	}
	if setErr := s.idem.Set(storeCtx, key, []byte(resp.JobID), s.idemTTL); setErr != nil {
		s.logger.Warn("recording idempotency key failed", "key", idempotencyKey, "error", setErr)
	}
	return resp, nil
}

func (s *Service) submit(ctx context.Context, req schemas.SubmitRequest) (*schemas.SubmitResponse, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID: %w", err)
	}
	jobID := id.String()
	logger := s.logger.With("job_id", jobID)

	var agent registry.Agent
	if req.Resources != nil {
		agent, err = s.selector.ChooseAgentForJob(ctx, req.Resources.Request())
	} else {
		agent, err = s.selector.ChooseAgent(ctx)
	}
	if err != nil {
		logger.Warn("no agent available", "error", err)
		return nil, err
	}

	_, err = s.agentClient(agent.URL, s.forwardTimeout).Run(ctx, schemas.RunJobRequest{
		Script:    req.Code,
		JobID:     jobID,
		Resources: req.Resources,
	})
	if err != nil {
		logger.Error("forwarding job failed", "agent", agent.Name, "error", err)
		// The agent's own status code is not ours to report.
		return nil, qerr.New(qerr.CodeRejected, fmt.Errorf("forwarding to agent %s: %w", agent.Name, err))
	}

	rec := directory.Record{
		JobID:     jobID,
		AgentName: agent.Name,
		AgentURL:  agent.URL,
		Status:    directory.StatusSubmitted,
	}
	if req.Resources != nil {
		r := req.Resources.Request()
		rec.Resources = &r
	}
	if err := s.jobs.Insert(rec); err != nil {
		return nil, err
	}

	logger.Info("job submitted", "agent", agent.Name)
	return &schemas.SubmitResponse{JobID: jobID}, nil
}

// JobStatus proxies the agent's status document. A successful answer
// refreshes the directory record.
func (s *Service) JobStatus(ctx context.Context, jobID string) (map[string]any, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := s.agentClient(rec.AgentURL, s.proxyTimeout).GetJob(ctx, jobID, &doc); err != nil {
		return nil, s.proxyErr(rec, err)
	}
	s.refresh(rec, doc)
	return doc, nil
}

// JobResult proxies the agent's result document.
func (s *Service) JobResult(ctx context.Context, jobID string) (map[string]any, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := s.agentClient(rec.AgentURL, s.proxyTimeout).GetResult(ctx, jobID, &doc); err != nil {
		return nil, s.proxyErr(rec, err)
	}
	s.refresh(rec, doc)
	return doc, nil
}

// Cancel forwards a cancellation. An agent reporting the job already
// finished surfaces as a conflict.
func (s *Service) Cancel(ctx context.Context, jobID string) (map[string]any, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := s.agentClient(rec.AgentURL, s.proxyTimeout).CancelJob(ctx, jobID, &doc); err != nil {
		if qerr.IsCode(err, qerr.CodeConflict) {
			return nil, err
		}
		return nil, s.proxyErr(rec, err)
	}
	s.logger.Info("job cancel forwarded", "job_id", jobID, "agent", rec.AgentName)
	return doc, nil
}

// Jobs lists the directory in submission order.
func (s *Service) Jobs() []schemas.JobSummary {
	records := s.jobs.List()
	out := make([]schemas.JobSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, schemas.JobSummary{
			JobID:  rec.JobID,
			Status: string(rec.Status),
			Agent:  rec.AgentName,
		})
	}
	return out
}

// Agents probes every registered agent concurrently. It does not move the
// placement cursor.
func (s *Service) Agents(ctx context.Context) []schemas.AgentInfo {
	agents := s.registry.Agents()
	out := make([]schemas.AgentInfo, len(agents))

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, agent := range agents {
		g.Go(func() error {
			info := schemas.AgentInfo{Name: agent.Name, URL: agent.URL}
			if c, ok := s.registry.Probe(ctx, agent); ok {
				st := schemas.NewAgentStatus(c)
				info.Reachable = true
				info.Capacity = &st
			}
			out[i] = info
			return nil
		})
	}
	g.Wait()
	return out
}

func (s *Service) lookup(jobID string) (directory.Record, error) {
	rec, err := s.jobs.Get(jobID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.Record{}, qerr.New(qerr.CodeNotFound, err)
		}
		return directory.Record{}, err
	}
	return rec, nil
}

// proxyErr classifies a failed agent call: unreachable stays unreachable,
// every answer other than 2xx becomes rejected.
func (s *Service) proxyErr(rec directory.Record, err error) error {
	s.logger.Warn("agent query failed", "job_id", rec.JobID, "agent", rec.AgentName, "error", err)
	wrapped := fmt.Errorf("agent %s: %w", rec.AgentName, err)
	if qerr.IsCode(err, qerr.CodeUnreachable) {
		return wrapped
	}
	return qerr.New(qerr.CodeRejected, wrapped)
}

func (s *Service) refresh(rec directory.Record, doc map[string]any) {
	status, ok := doc["status"].(string)
	if !ok {
		return
	}
	if err := s.jobs.UpdateStatus(rec.JobID, directory.ParseStatus(status)); err != nil {
		s.logger.Warn("refreshing job status failed", "job_id", rec.JobID, "error", err)
	}
}
