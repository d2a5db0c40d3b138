package qsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quatton/jobman/pkg/qapi/schemas"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
)

func TestAgentClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(schemas.AgentStatus{CPUFree: 4, MemFree: 2048, GPUFree: 1, GPUAvailable: []int{3}})
	}))
	defer srv.Close()

	st, err := NewAgentClient(srv.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	capacity := st.Capacity()
	if capacity.CPUFree != 4 || capacity.MemFreeBytes != 2048<<20 || capacity.GPUFree != 1 {
		t.Errorf("unexpected capacity %+v", capacity)
	}
}

func TestAgentClient_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"job missing not found"}`))
		case "/jobs/done":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"already finished"}`))
		case "/jobs/garbage":
			w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewAgentClient(srv.URL)
	ctx := context.Background()

	var out map[string]any
	err := c.GetJob(ctx, "missing", &out)
	if !qerr.IsCode(err, qerr.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
	if StatusCode(err) != http.StatusNotFound {
		t.Errorf("StatusCode = %d", StatusCode(err))
	}

	if err := c.CancelJob(ctx, "done", nil); !qerr.IsCode(err, qerr.CodeConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if err := c.GetJob(ctx, "garbage", &out); !qerr.IsCode(err, qerr.CodeRejected) {
		t.Errorf("expected rejected for undecodable body, got %v", err)
	}
	if err := c.GetResult(ctx, "x", &out); !qerr.IsCode(err, qerr.CodeRejected) {
		t.Errorf("expected rejected for 500, got %v", err)
	}
}

func TestAgentClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAgentClient(url).Status(context.Background())
	if !qerr.IsCode(err, qerr.CodeUnreachable) {
		t.Errorf("expected unreachable, got %v", err)
	}
}

func TestAgentClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewAgentClient(srv.URL, WithTimeout(50*time.Millisecond)).Status(context.Background())
	if !qerr.IsCode(err, qerr.CodeUnreachable) {
		t.Errorf("expected unreachable on timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not honoured")
	}
}

func TestSchedulerClient_SubmitSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotBody schemas.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(schemas.SubmitResponse{JobID: "j-1"})
	}))
	defer srv.Close()

	resp, err := NewSchedulerClient(srv.URL).Submit(context.Background(), schemas.SubmitRequest{
		Code:      "print(1)",
		Resources: &schemas.ResourceSpec{CPU: 1},
	}, "key-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.JobID != "j-1" {
		t.Errorf("JobID = %s", resp.JobID)
	}
	if gotKey != "key-1" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
	if gotBody.Code != "print(1)" || gotBody.Resources == nil || gotBody.Resources.CPU != 1 {
		t.Errorf("unexpected body %+v", gotBody)
	}
}

func TestSchedulerClient_NoCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"no agent available"}`))
	}))
	defer srv.Close()

	_, err := NewSchedulerClient(srv.URL).Submit(context.Background(), schemas.SubmitRequest{Code: "x"}, "")
	if !qerr.IsCode(err, qerr.CodeNoCapacity) {
		t.Errorf("expected no_capacity, got %v", err)
	}
	if err == nil || err.Error() != "no_capacity: status 503: no agent available" {
		t.Errorf("unexpected message: %v", err)
	}
}
