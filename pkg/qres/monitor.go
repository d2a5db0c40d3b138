package qres

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
)

// Monitor computes free capacity as host totals minus the reservations of
// running jobs. It owns the reservation ledger.
type Monitor struct {
	inv    Inventory
	logger *qlog.Logger

	hostOnce sync.Once
	host     Host

	mu      sync.Mutex
	running map[string]Reservation
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithLogger sets the logger used for hardware query warnings.
func WithLogger(logger *qlog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func NewMonitor(inv Inventory, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		inv:     inv,
		logger:  qlog.Discard(),
		running: make(map[string]Reservation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Host returns the host inventory, querying it on first use.
// A failing GPU query degrades to zero GPUs.
func (m *Monitor) Host(ctx context.Context) Host {
	m.hostOnce.Do(func() {
		cpus, err := m.inv.CPUCount(ctx)
		if err != nil {
			m.logger.Warn("cpu count unavailable", "error", err)
		}
		memBytes, err := m.inv.MemoryBytes(ctx)
		if err != nil {
			m.logger.Warn("memory total unavailable", "error", err)
		}
		gpus, err := m.inv.GPUIndices(ctx)
		if err != nil {
			m.logger.Warn("gpu enumeration failed, reporting zero GPUs", "error", err)
			gpus = nil
		}
		m.host = Host{CPUs: cpus, MemBytes: memBytes, GPUIndices: sortedCopy(gpus)}
		m.logger.Info("host inventory", "cpus", cpus, "mem_mb", memBytes>>20, "gpus", len(gpus))
	})
	return m.host
}

// Capacity returns the current free capacity.
func (m *Monitor) Capacity(ctx context.Context) Capacity {
	host := m.Host(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityLocked(host)
}

func (m *Monitor) capacityLocked(host Host) Capacity {
	usedCPU := 0
	var usedMem int64
	usedGPU := make(map[int]struct{})
	for _, r := range m.running {
		usedCPU += r.CPU
		usedMem += r.MemBytes
		for _, idx := range r.GPUIndices {
			usedGPU[idx] = struct{}{}
		}
	}

	available := make([]int, 0, len(host.GPUIndices))
	for _, idx := range host.GPUIndices {
		if _, taken := usedGPU[idx]; !taken {
			available = append(available, idx)
		}
	}

	return Capacity{
		CPUFree:      host.CPUs - usedCPU,
		MemFreeBytes: host.MemBytes - usedMem,
		GPUFree:      len(available),
		GPUAvailable: available,
	}
}

// Reserve records a reservation for jobID and assigns GPU indices from the
// currently free set. The capacity read and the insert happen under one lock.
// The agent never refuses on capacity: if fewer GPUs are free than requested,
// the job gets what is left.
func (m *Monitor) Reserve(ctx context.Context, jobID string, req Request) (Reservation, error) {
	if req.CPU < 0 || req.MemoryMB < 0 || req.GPU < 0 {
		return Reservation{}, fmt.Errorf("negative resource request for job %s", jobID)
	}
	host := m.Host(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.running[jobID]; exists {
		return Reservation{}, qerr.Errorf(qerr.CodeConflict, "job %s already holds a reservation", jobID)
	}

	free := m.capacityLocked(host)
	n := req.GPU
	if n > len(free.GPUAvailable) {
		m.logger.Warn("gpu request exceeds free GPUs, assigning what is left",
			"job_id", jobID, "requested", req.GPU, "free", len(free.GPUAvailable))
		n = len(free.GPUAvailable)
	}

	res := Reservation{
		JobID:      jobID,
		CPU:        req.CPU,
		MemBytes:   req.MemBytes(),
		GPUIndices: sortedCopy(free.GPUAvailable[:n]),
	}
	m.running[jobID] = res
	return res, nil
}

// Release drops the reservation for jobID. It reports whether one existed.
func (m *Monitor) Release(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.running[jobID]
	delete(m.running, jobID)
	return ok
}

// Reservations returns a snapshot of the ledger ordered by job ID.
func (m *Monitor) Reservations() []Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Reservation, 0, len(m.running))
	for _, r := range m.running {
		r.GPUIndices = sortedCopy(r.GPUIndices)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
