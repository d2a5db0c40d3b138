package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/quatton/jobman/pkg/directory"
	"github.com/quatton/jobman/pkg/kv"
	"github.com/quatton/jobman/pkg/qapi"
	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/quatton/jobman/pkg/qapi/services/agent"
	"github.com/quatton/jobman/pkg/qapi/services/scheduler"
	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qrunner"
	"github.com/quatton/jobman/pkg/registry"
)

// newAgent starts a real agent API running sh scripts in a temp dir. The
// returned TestAPI and server share one service.
func newAgent(t *testing.T, inv qres.StaticInventory) (*httptest.Server, humatest.TestAPI) {
	t.Helper()
	monitor := qres.NewMonitor(inv)
	runner := qrunner.NewLocalRunner(
		qrunner.WithBaseDir(t.TempDir()),
		qrunner.WithInterpreter("sh"),
		qrunner.WithMonitor(monitor),
	)
	t.Cleanup(func() { runner.Close() })

	a := qapi.NewApi("jobman agent")
	RegisterAgent(a.Api, agent.NewService("test-agent", monitor, runner, nil, nil))
	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)
	return srv, humatest.Wrap(t, a.Api)
}

func newScheduler(t *testing.T, agents ...registry.Agent) humatest.TestAPI {
	t.Helper()
	reg := registry.New(agents, registry.WithProbeTimeout(200*time.Millisecond))
	svc := scheduler.NewService(reg, directory.NewMemoryStore(), kv.NewMemoryStore(), scheduler.Options{
		ForwardTimeout: time.Second,
		ProxyTimeout:   time.Second,
	})
	a := qapi.NewApi("jobman scheduler")
	RegisterScheduler(a.Api, svc)
	return humatest.Wrap(t, a.Api)
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", resp.Body.String(), err)
	}
	return out
}

func errorBody(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]any](t, resp)
	msg, ok := body["error"].(string)
	if !ok || msg == "" {
		t.Errorf("expected {\"error\": ...} body, got %s", resp.Body.String())
	}
	return msg
}

func deadAgentURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func waitForStatus(t *testing.T, api humatest.TestAPI, path, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp := api.Get(path)
		if resp.Code == http.StatusOK {
			doc := decode[map[string]any](t, resp)
			if doc["status"] == want {
				return doc
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never reached %s, last: %d %s", path, want, resp.Code, resp.Body.String())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestAgent_CapacityAroundRun(t *testing.T) {
	_, api := newAgent(t, qres.StaticInventory{CPUs: 4, MemBytes: 8 << 30, GPUs: []int{0, 1}})

	before := decode[schemas.AgentStatus](t, api.Get("/status"))
	if before.CPUFree != 4 || before.MemFree != 8192 || before.GPUFree != 2 {
		t.Fatalf("unexpected initial status %+v", before)
	}

	resp := api.Post("/run", map[string]any{
		"script":    "sleep 0.3; echo done",
		"job_id":    "job-1",
		"resources": map[string]any{"cpu": 2, "memory": 1024, "gpu": 1},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("run: %d %s", resp.Code, resp.Body.String())
	}
	started := decode[schemas.RunJobResponse](t, resp)
	if started.Status != "started" || started.JobID != "job-1" {
		t.Errorf("unexpected run response %+v", started)
	}

	during := decode[schemas.AgentStatus](t, api.Get("/status"))
	if during.CPUFree != 2 || during.MemFree != 7168 || during.GPUFree != 1 {
		t.Errorf("reservation not visible: %+v", during)
	}

	waitForStatus(t, api, "/jobs/job-1", "completed")

	after := decode[schemas.AgentStatus](t, api.Get("/status"))
	if after.CPUFree != before.CPUFree || after.MemFree != before.MemFree || after.GPUFree != before.GPUFree {
		t.Errorf("capacity not restored: before=%+v after=%+v", before, after)
	}

	result := decode[schemas.JobResultResponse](t, api.Get("/jobs/job-1/result"))
	if result.Stdout != "done\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("exit code = %v", result.ExitCode)
	}
}

func TestAgent_Errors(t *testing.T) {
	_, api := newAgent(t, qres.StaticInventory{CPUs: 1, MemBytes: 1 << 30})

	resp := api.Get("/jobs/nope")
	if resp.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.Code)
	}
	errorBody(t, resp)

	if resp := api.Post("/run", map[string]any{"script": "true", "job_id": "../etc"}); resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("path-like job id should fail validation, got %d", resp.Code)
	}

	api.Post("/run", map[string]any{"script": "true", "job_id": "quick"})
	waitForStatus(t, api, "/jobs/quick", "completed")

	resp = api.Post("/run", map[string]any{"script": "true", "job_id": "quick"})
	if resp.Code != http.StatusConflict {
		t.Errorf("duplicate job id: expected 409, got %d", resp.Code)
	}

	resp = api.Delete("/jobs/quick")
	if resp.Code != http.StatusConflict {
		t.Errorf("cancelling a finished job: expected 409, got %d", resp.Code)
	}
	errorBody(t, resp)
}

func TestAgent_CancelAndList(t *testing.T) {
	_, api := newAgent(t, qres.StaticInventory{CPUs: 2, MemBytes: 1 << 30})

	api.Post("/run", map[string]any{"script": "sleep 10", "job_id": "long"})
	if resp := api.Delete("/jobs/long"); resp.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", resp.Code, resp.Body.String())
	}
	waitForStatus(t, api, "/jobs/long", "cancelled")

	jobs := decode[[]schemas.JobResponse](t, api.Get("/jobs?status=cancelled"))
	if len(jobs) != 1 || jobs[0].JobID != "long" {
		t.Errorf("unexpected list %+v", jobs)
	}
}

func TestScheduler_AllAgentsUnreachable(t *testing.T) {
	api := newScheduler(t,
		registry.Agent{Name: "a", URL: deadAgentURL()},
		registry.Agent{Name: "b", URL: deadAgentURL()},
	)

	resp := api.Post("/submit", map[string]any{"code": "print(1)"})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", resp.Code, resp.Body.String())
	}
	errorBody(t, resp)

	resp = api.Post("/submit", map[string]any{"code": "print(1)", "resources": map[string]any{"cpu": 1}})
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with resources, got %d", resp.Code)
	}

	jobs := decode[[]schemas.JobSummary](t, api.Get("/jobs"))
	if len(jobs) != 0 {
		t.Errorf("failed submissions must not be recorded, got %+v", jobs)
	}
}

func TestScheduler_SubmitStatusResult(t *testing.T) {
	agentSrv, _ := newAgent(t, qres.StaticInventory{CPUs: 4, MemBytes: 4 << 30})
	api := newScheduler(t, registry.Agent{Name: "w1", URL: agentSrv.URL})

	resp := api.Post("/submit", map[string]any{
		"code":      "echo hello",
		"resources": map[string]any{"cpu": 1, "memory": 256},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}
	jobID := decode[schemas.SubmitResponse](t, resp).JobID
	if jobID == "" {
		t.Fatal("empty job id")
	}

	first := waitForStatus(t, api, "/job/"+jobID+"/status", "completed")
	if first["job_id"] != jobID {
		t.Errorf("proxied document has job_id %v", first["job_id"])
	}

	// A finished job reports the same document every time
	second := decode[map[string]any](t, api.Get("/job/"+jobID+"/status"))
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("status not idempotent:\n%s\n%s", a, b)
	}

	result := decode[map[string]any](t, api.Get("/job/"+jobID+"/result"))
	if result["stdout"] != "hello\n" {
		t.Errorf("stdout = %v", result["stdout"])
	}

	jobs := decode[[]schemas.JobSummary](t, api.Get("/jobs"))
	if len(jobs) != 1 || jobs[0].JobID != jobID || jobs[0].Agent != "w1" || jobs[0].Status != "completed" {
		t.Errorf("unexpected jobs %+v", jobs)
	}
}

func TestScheduler_NotFoundVersusUnreachable(t *testing.T) {
	agentSrv, _ := newAgent(t, qres.StaticInventory{CPUs: 1, MemBytes: 1 << 30})
	api := newScheduler(t, registry.Agent{Name: "w1", URL: agentSrv.URL})

	resp := api.Get("/job/does-not-exist/status")
	if resp.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", resp.Code)
	}
	errorBody(t, resp)

	jobID := decode[schemas.SubmitResponse](t, api.Post("/submit", map[string]any{"code": "true"})).JobID
	agentSrv.Close()

	for _, path := range []string{"/job/" + jobID + "/status", "/job/" + jobID + "/result"} {
		resp := api.Get(path)
		if resp.Code != http.StatusBadGateway {
			t.Errorf("%s with agent down: expected 502, got %d", path, resp.Code)
		}
		errorBody(t, resp)
	}
	if resp := api.Delete("/job/" + jobID); resp.Code != http.StatusBadGateway {
		t.Errorf("cancel with agent down: expected 502, got %d", resp.Code)
	}
}

// fakeAgent reports a fixed capacity and counts /run calls.
func fakeAgent(t *testing.T, status schemas.AgentStatus, runCode int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var runs atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		runs.Add(1)
		if runCode != http.StatusOK {
			w.WriteHeader(runCode)
			w.Write([]byte(`{"error":"boom"}`))
			return
		}
		var req schemas.RunJobRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(schemas.RunJobResponse{Status: "started", JobID: req.JobID})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &runs
}

func TestScheduler_ResourceAwarePlacement(t *testing.T) {
	small, smallRuns := fakeAgent(t, schemas.AgentStatus{CPUFree: 2, MemFree: 2048, GPUFree: 0, GPUAvailable: []int{}}, http.StatusOK)
	big, bigRuns := fakeAgent(t, schemas.AgentStatus{CPUFree: 8, MemFree: 16384, GPUFree: 2, GPUAvailable: []int{0, 1}}, http.StatusOK)
	api := newScheduler(t,
		registry.Agent{Name: "A", URL: small.URL},
		registry.Agent{Name: "B", URL: big.URL},
	)

	resp := api.Post("/submit", map[string]any{
		"code":      "train()",
		"resources": map[string]any{"cpu": 4, "memory": 4096, "gpu": 1},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}
	if smallRuns.Load() != 0 || bigRuns.Load() != 1 {
		t.Errorf("job should go to B only: A=%d B=%d", smallRuns.Load(), bigRuns.Load())
	}

	resp = api.Post("/submit", map[string]any{
		"code":      "train()",
		"resources": map[string]any{"cpu": 16},
	})
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("oversized job: expected 503, got %d", resp.Code)
	}

	jobs := decode[[]schemas.JobSummary](t, api.Get("/jobs"))
	if len(jobs) != 1 || jobs[0].Agent != "B" || jobs[0].Status != "submitted" {
		t.Errorf("unexpected jobs %+v", jobs)
	}
}

func TestScheduler_ForwardFailure(t *testing.T) {
	// Any non-2xx from the agent's /run is a failed forward, including codes
	// that would mean something else coming from the scheduler itself.
	for _, agentCode := range []int{
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
		http.StatusNotFound,
		http.StatusConflict,
	} {
		t.Run(http.StatusText(agentCode), func(t *testing.T) {
			broken, runs := fakeAgent(t, schemas.AgentStatus{CPUFree: 4, MemFree: 4096, GPUAvailable: []int{}}, agentCode)
			api := newScheduler(t, registry.Agent{Name: "broken", URL: broken.URL})

			resp := api.Post("/submit", map[string]any{"code": "x"})
			if resp.Code != http.StatusInternalServerError {
				t.Errorf("agent answered %d: expected 500, got %d %s", agentCode, resp.Code, resp.Body.String())
			}
			errorBody(t, resp)
			if runs.Load() != 1 {
				t.Errorf("forward should be attempted once, got %d", runs.Load())
			}

			jobs := decode[[]schemas.JobSummary](t, api.Get("/jobs"))
			if len(jobs) != 0 {
				t.Errorf("failed forward must not be recorded, got %+v", jobs)
			}
		})
	}
}

func TestScheduler_ForwardUnreachable(t *testing.T) {
	// The agent answers /status but its /run connection is dropped.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(schemas.AgentStatus{CPUFree: 1, GPUAvailable: []int{}})
	})
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err == nil {
			conn.Close()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	api := newScheduler(t, registry.Agent{Name: "flaky", URL: srv.URL})

	resp := api.Post("/submit", map[string]any{"code": "x"})
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestScheduler_IdempotentSubmit(t *testing.T) {
	srv, runs := fakeAgent(t, schemas.AgentStatus{CPUFree: 4, MemFree: 4096, GPUAvailable: []int{}}, http.StatusOK)
	api := newScheduler(t, registry.Agent{Name: "w", URL: srv.URL})

	first := api.Post("/submit", "Idempotency-Key: abc", map[string]any{"code": "x"})
	second := api.Post("/submit", "Idempotency-Key: abc", map[string]any{"code": "x"})
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("submits: %d %d", first.Code, second.Code)
	}
	if decode[schemas.SubmitResponse](t, first).JobID != decode[schemas.SubmitResponse](t, second).JobID {
		t.Error("repeated key should return the same job id")
	}
	if runs.Load() != 1 {
		t.Errorf("agent should see one run, got %d", runs.Load())
	}
}

func TestScheduler_Agents(t *testing.T) {
	srv, _ := fakeAgent(t, schemas.AgentStatus{CPUFree: 3, MemFree: 512, GPUAvailable: []int{}}, http.StatusOK)
	api := newScheduler(t,
		registry.Agent{Name: "up", URL: srv.URL},
		registry.Agent{Name: "down", URL: deadAgentURL()},
	)

	agents := decode[[]schemas.AgentInfo](t, api.Get("/agents"))
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if !agents[0].Reachable || agents[0].Capacity == nil || agents[0].Capacity.CPUFree != 3 {
		t.Errorf("up agent: %+v", agents[0])
	}
	if agents[1].Reachable || agents[1].Capacity != nil {
		t.Errorf("down agent: %+v", agents[1])
	}
}

func TestHealth(t *testing.T) {
	api := newScheduler(t)
	resp := api.Get("/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("health: %d", resp.Code)
	}
	if body := decode[schemas.HealthResponse](t, resp); body.Status != "ok" || body.Service != "scheduler" {
		t.Errorf("unexpected body %+v", body)
	}
}
