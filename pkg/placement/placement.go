// Package placement picks the agent a job is forwarded to.
//
// Both strategies walk one full rotation starting at the registry's shared
// round-robin cursor, so consecutive submissions spread across agents and an
// unreachable agent costs one probe timeout per placement.
package placement

import (
	"context"
	"errors"

	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
	"github.com/quatton/jobman/pkg/registry"
)

// ErrNoAgent means no agent was reachable (or none had enough capacity) during one rotation.
var ErrNoAgent = qerr.New(qerr.CodeNoCapacity, errors.New("no agent available"))

type Selector struct {
	registry *registry.Registry
	logger   *qlog.Logger
}

func NewSelector(reg *registry.Registry, logger *qlog.Logger) *Selector {
	if logger == nil {
		logger = qlog.Discard()
	}
	return &Selector{registry: reg, logger: logger}
}

// ChooseAgent returns the first agent that answers a probe.
func (s *Selector) ChooseAgent(ctx context.Context) (registry.Agent, error) {
	return s.choose(ctx, func(registry.Agent, qres.Capacity) bool { return true })
}

// ChooseAgentForJob returns the first agent whose free capacity covers req.
func (s *Selector) ChooseAgentForJob(ctx context.Context, req qres.Request) (registry.Agent, error) {
	return s.choose(ctx, func(agent registry.Agent, c qres.Capacity) bool {
		if c.Fits(req) {
			return true
		}
		s.logger.Debug("agent lacks capacity", "agent", agent.Name,
			"cpu_free", c.CPUFree, "mem_free_mb", c.MemFreeMB(), "gpu_free", c.GPUFree,
			"cpu", req.CPU, "memory_mb", req.MemoryMB, "gpu", req.GPU)
		return false
	})
}

// choose walks a snapshot of one rotation so concurrent placements never
// steal agents from each other's walk. The shared cursor still moves by one
// per agent visited.
func (s *Selector) choose(ctx context.Context, accept func(registry.Agent, qres.Capacity) bool) (registry.Agent, error) {
	rotation := s.registry.Rotation()
	visited := 0
	defer func() {
		s.registry.Advance(visited - 1)
	}()

	for _, agent := range rotation {
		if err := ctx.Err(); err != nil {
			return registry.Agent{}, err
		}
		visited++
		c, ok := s.registry.Probe(ctx, agent)
		if !ok {
			continue
		}
		if accept(agent, c) {
			return agent, nil
		}
	}
	return registry.Agent{}, ErrNoAgent
}
