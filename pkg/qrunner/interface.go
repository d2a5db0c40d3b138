package qrunner

import (
	"context"
	"errors"
	"time"

	"github.com/quatton/jobman/pkg/qres"
)

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")
	ErrRunFinished = errors.New("run already finished")
)

// JobSpec defines a script job to be run
type JobSpec struct {
	ID        string            // Optional: if empty, a new ID will be generated
	Script    string            // Script body, written to the run directory
	Resources qres.Request      // Declared reservation
	Env       map[string]string // Extra environment variables
}

// Run represents an execution of a job
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Interpreter string     `json:"interpreter"`
	ScriptPath  string     `json:"script_path"`
	CPU         int        `json:"cpu"`
	MemoryMB    int        `json:"memory_mb"`
	GPU         int        `json:"gpu"`
	GPUIndices  []int      `json:"gpu_indices"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	RunDir      string     `json:"run_dir"`
	LogsPath    string     `json:"logs_path"`   // Path to stdout.log
	StderrPath  string     `json:"stderr_path"` // Path to stderr.log
	// Artifact information
	Artifacts []RunArtifact `json:"artifacts,omitempty"`
}

func (r *Run) clone() *Run {
	c := *r
	c.GPUIndices = append([]int(nil), r.GPUIndices...)
	c.Artifacts = append([]RunArtifact(nil), r.Artifacts...)
	if r.ExitCode != nil {
		code := *r.ExitCode
		c.ExitCode = &code
	}
	return &c
}

// RunArtifact represents a stored artifact for a run.
type RunArtifact struct {
	Key         string `json:"key"`           // S3/storage key
	Filename    string `json:"filename"`      // Original filename
	Size        int64  `json:"size"`          // Size in bytes
	ContentType string `json:"content_type"`  // MIME type
	URL         string `json:"url,omitempty"` // Presigned download URL
}

// Result is a run plus the tail of its output.
type Result struct {
	Run    *Run
	Stdout string
	Stderr string
}

// Runner defines the interface for executing jobs
type Runner interface {
	// Start reserves capacity, spawns the job and returns without waiting
	Start(ctx context.Context, spec JobSpec) (*Run, error)

	// Wait waits for a run to complete
	Wait(ctx context.Context, runID string) (*Run, error)

	// GetRun retrieves the status of a run
	GetRun(ctx context.Context, runID string) (*Run, error)

	// Result retrieves the status and captured output of a run
	Result(ctx context.Context, runID string) (*Result, error)

	// Cancel cancels a running job
	Cancel(ctx context.Context, runID string) error

	// ListRuns lists all runs, optionally filtered by status
	ListRuns(ctx context.Context, status *RunStatus) ([]*Run, error)
}
