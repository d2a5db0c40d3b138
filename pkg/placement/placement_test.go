package placement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
	"github.com/quatton/jobman/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFleet answers probes from a fixed table; agents missing from it are unreachable.
type fakeFleet struct {
	capacity map[string]qres.Capacity
	probes   []string
}

func (f *fakeFleet) Probe(ctx context.Context, agent registry.Agent) (qres.Capacity, error) {
	f.probes = append(f.probes, agent.Name)
	c, ok := f.capacity[agent.Name]
	if !ok {
		return qres.Capacity{}, errors.New("connection refused")
	}
	return c, nil
}

func agents(names ...string) []registry.Agent {
	out := make([]registry.Agent, len(names))
	for i, n := range names {
		out[i] = registry.Agent{Name: n, URL: "http://" + n + ":5000"}
	}
	return out
}

func newSelector(fleet *fakeFleet, names ...string) *Selector {
	reg := registry.New(agents(names...), registry.WithProber(fleet))
	return NewSelector(reg, nil)
}

func mb(n int64) int64 { return n << 20 }

func TestChooseAgent_RotatesDeterministically(t *testing.T) {
	fleet := &fakeFleet{capacity: map[string]qres.Capacity{
		"a": {}, "b": {}, "c": {},
	}}
	sel := newSelector(fleet, "a", "b", "c")

	var got []string
	for i := 0; i < 4; i++ {
		agent, err := sel.ChooseAgent(context.Background())
		require.NoError(t, err)
		got = append(got, agent.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestChooseAgent_SkipsUnreachable(t *testing.T) {
	fleet := &fakeFleet{capacity: map[string]qres.Capacity{"a": {}, "c": {}}}
	sel := newSelector(fleet, "a", "b", "c")

	first, err := sel.ChooseAgent(context.Background())
	require.NoError(t, err)
	second, err := sel.ChooseAgent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "a", first.Name)
	assert.Equal(t, "c", second.Name, "b is down and must be skipped")
	assert.Equal(t, []string{"a", "b", "c"}, fleet.probes)
}

func TestChooseAgent_AllUnreachable(t *testing.T) {
	fleet := &fakeFleet{capacity: map[string]qres.Capacity{}}
	sel := newSelector(fleet, "a", "b")

	_, err := sel.ChooseAgent(context.Background())
	require.ErrorIs(t, err, ErrNoAgent)
	assert.True(t, qerr.IsCode(err, qerr.CodeNoCapacity))
	assert.Len(t, fleet.probes, 2, "exactly one rotation")
}

func TestChooseAgent_EmptyRegistry(t *testing.T) {
	sel := newSelector(&fakeFleet{})

	_, err := sel.ChooseAgent(context.Background())
	assert.ErrorIs(t, err, ErrNoAgent)
	_, err = sel.ChooseAgentForJob(context.Background(), qres.Request{CPU: 1})
	assert.ErrorIs(t, err, ErrNoAgent)
}

// A has 2 CPU / 2048 MB / 0 GPU, B has 8 CPU / 16384 MB / 2 GPU.
func TestChooseAgentForJob_Scenario(t *testing.T) {
	fleet := &fakeFleet{capacity: map[string]qres.Capacity{
		"A": {CPUFree: 2, MemFreeBytes: mb(2048), GPUFree: 0},
		"B": {CPUFree: 8, MemFreeBytes: mb(16384), GPUFree: 2, GPUAvailable: []int{0, 1}},
	}}
	sel := newSelector(fleet, "A", "B")
	ctx := context.Background()

	agent, err := sel.ChooseAgentForJob(ctx, qres.Request{CPU: 4, MemoryMB: 4096, GPU: 1})
	require.NoError(t, err)
	assert.Equal(t, "B", agent.Name)

	// The cursor now rests on A, which fits a small job
	agent, err = sel.ChooseAgentForJob(ctx, qres.Request{CPU: 1, MemoryMB: 512})
	require.NoError(t, err)
	assert.Equal(t, "A", agent.Name)

	_, err = sel.ChooseAgentForJob(ctx, qres.Request{CPU: 16})
	assert.ErrorIs(t, err, ErrNoAgent)
}

func TestChooseAgentForJob_NeverPicksInsufficient(t *testing.T) {
	fleet := &fakeFleet{capacity: map[string]qres.Capacity{
		"cpu-poor": {CPUFree: 1, MemFreeBytes: mb(65536), GPUFree: 4},
		"mem-poor": {CPUFree: 32, MemFreeBytes: mb(1023), GPUFree: 4},
		"gpu-poor": {CPUFree: 32, MemFreeBytes: mb(65536), GPUFree: 0},
	}}
	sel := newSelector(fleet, "cpu-poor", "mem-poor", "gpu-poor")
	req := qres.Request{CPU: 2, MemoryMB: 1024, GPU: 1}

	for i := 0; i < 3; i++ {
		_, err := sel.ChooseAgentForJob(context.Background(), req)
		assert.ErrorIs(t, err, ErrNoAgent)
	}

	// Exact fit is enough
	fleet.capacity["exact"] = qres.Capacity{CPUFree: 2, MemFreeBytes: mb(1024), GPUFree: 1}
	sel = newSelector(fleet, "cpu-poor", "exact")
	agent, err := sel.ChooseAgentForJob(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "exact", agent.Name)
}

func TestChoose_CancelledContext(t *testing.T) {
	fleet := &fakeFleet{capacity: map[string]qres.Capacity{"a": {}}}
	sel := newSelector(fleet, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sel.ChooseAgent(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// gatedFleet holds every capacity query for "A" until release is closed.
type gatedFleet struct {
	capacity map[string]qres.Capacity
	started  chan struct{}
	release  chan struct{}
	once     sync.Once

	mu      sync.Mutex
	queried []string
}

func (f *gatedFleet) Probe(ctx context.Context, agent registry.Agent) (qres.Capacity, error) {
	f.mu.Lock()
	f.queried = append(f.queried, agent.Name)
	f.mu.Unlock()
	if agent.Name == "A" {
		f.once.Do(func() { close(f.started) })
		select {
		case <-f.release:
		case <-ctx.Done():
			return qres.Capacity{}, ctx.Err()
		}
	}
	return f.capacity[agent.Name], nil
}

func TestChooseAgentForJob_ConcurrentPlacementsSeeFullRotation(t *testing.T) {
	fleet := &gatedFleet{
		capacity: map[string]qres.Capacity{
			"A": {CPUFree: 1, MemFreeBytes: mb(1024)},
			"B": {CPUFree: 8, MemFreeBytes: mb(16384)},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	reg := registry.New(agents("A", "B"), registry.WithProber(fleet), registry.WithProbeTimeout(5*time.Second))
	sel := NewSelector(reg, nil)
	ctx := context.Background()

	type result struct {
		agent registry.Agent
		err   error
	}
	done := make(chan result, 1)
	go func() {
		agent, err := sel.ChooseAgentForJob(ctx, qres.Request{CPU: 4})
		done <- result{agent, err}
	}()

	select {
	case <-fleet.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first placement never reached A")
	}

	// A second placement moves the shared cursor while the first is still on A
	other, err := sel.ChooseAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", other.Name)

	close(fleet.release)
	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first placement did not finish")
	}
	require.NoError(t, res.err, "B fits and must be visited in the same rotation")
	assert.Equal(t, "B", res.agent.Name)

	fleet.mu.Lock()
	defer fleet.mu.Unlock()
	assert.ElementsMatch(t, []string{"A", "B", "B"}, fleet.queried)
}
