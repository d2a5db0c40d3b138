package qres

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/quatton/jobman/pkg/qsdk/qerr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// MockGPUEnv makes SystemInventory report N fake GPUs instead of calling nvidia-smi.
const MockGPUEnv = "JOBMAN_MOCK_GPU"

// Inventory answers questions about the host's total resources.
type Inventory interface {
	CPUCount(ctx context.Context) (int, error)
	MemoryBytes(ctx context.Context) (int64, error)
	GPUIndices(ctx context.Context) ([]int, error)
}

// SystemInventory reads the real host via gopsutil and nvidia-smi.
type SystemInventory struct {
	// NvidiaSMI is the binary used for GPU enumeration. Defaults to "nvidia-smi".
	NvidiaSMI string
}

func (SystemInventory) CPUCount(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU(), nil
	}
	return n, nil
}

func (SystemInventory) MemoryBytes(ctx context.Context) (int64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return int64(vm.Total), nil
}

// GPUIndices lists GPU indices reported by the driver.
func (s SystemInventory) GPUIndices(ctx context.Context) ([]int, error) {
	if v := os.Getenv(MockGPUEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, qerr.Errorf(qerr.CodeHardwareQuery, "invalid %s=%q", MockGPUEnv, v)
		}
		return mockIndices(n), nil
	}

	bin := s.NvidiaSMI
	if bin == "" {
		bin = "nvidia-smi"
	}
	cmd := exec.CommandContext(ctx, bin, "--query-gpu=index", "--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return nil, qerr.New(qerr.CodeHardwareQuery, fmt.Errorf("%s failed: %w", bin, err))
	}

	return parseGPUIndices(output)
}

func parseGPUIndices(output []byte) ([]int, error) {
	output = bytes.TrimSpace(output)
	if len(output) == 0 {
		return []int{}, nil
	}

	reader := csv.NewReader(bytes.NewReader(output))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, qerr.New(qerr.CodeHardwareQuery, fmt.Errorf("failed to parse CSV: %w", err))
	}

	indices := make([]int, 0, len(records))
	for _, record := range records {
		if len(record) == 0 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, qerr.Errorf(qerr.CodeHardwareQuery, "bad GPU index %q", record[0])
		}
		indices = append(indices, idx)
	}
	return sortedCopy(indices), nil
}

func mockIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// StaticInventory reports fixed totals. Used by tests and by agents that
// want to advertise a slice of a larger machine.
type StaticInventory struct {
	CPUs     int
	MemBytes int64
	GPUs     []int
	GPUErr   error
}

func (s StaticInventory) CPUCount(context.Context) (int, error) { return s.CPUs, nil }

func (s StaticInventory) MemoryBytes(context.Context) (int64, error) { return s.MemBytes, nil }

func (s StaticInventory) GPUIndices(context.Context) ([]int, error) {
	if s.GPUErr != nil {
		return nil, s.GPUErr
	}
	return sortedCopy(s.GPUs), nil
}
