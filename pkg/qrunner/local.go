package qrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/jobman/pkg/qart"
	"github.com/quatton/jobman/pkg/qlog"
	"github.com/quatton/jobman/pkg/qres"
	"github.com/quatton/jobman/pkg/qsdk/qerr"
)

const (
	scriptFile = "script"
	stdoutFile = "stdout.log"
	stderrFile = "stderr.log"
	runFile    = "run.json"

	// DefaultTailBytes bounds how much output Result returns per stream.
	DefaultTailBytes = 64 << 10
)

type LocalRunner struct {
	baseDir     string        // scratch directory, one subdirectory per job
	interpreter string        // program the script is handed to
	monitor     *qres.Monitor // reservation ledger (optional)
	artifacts   qart.Store    // artifact storage (optional)
	logger      *qlog.Logger
	tailBytes   int64

	// processes outlive the request that started them
	baseCtx context.Context

	mu    sync.RWMutex
	runs  map[string]*Run        // every run started by this process
	procs map[string]*runProcess // runs whose process is still alive
}

// runProcess tracks an active process
type runProcess struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// LocalRunnerOption configures a LocalRunner
type LocalRunnerOption func(*LocalRunner)

// WithArtifactStore sets the artifact storage for the runner
func WithArtifactStore(store qart.Store) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.artifacts = store
	}
}

// WithBaseDir sets the scratch directory for runs
func WithBaseDir(baseDir string) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.baseDir = baseDir
	}
}

// WithInterpreter sets the program used to execute scripts
func WithInterpreter(interpreter string) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.interpreter = interpreter
	}
}

// WithMonitor makes the runner reserve capacity on the given monitor
func WithMonitor(m *qres.Monitor) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.monitor = m
	}
}

// WithLogger sets the runner's logger
func WithLogger(logger *qlog.Logger) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.logger = logger
	}
}

func NewLocalRunner(opts ...LocalRunnerOption) *LocalRunner {
	r := &LocalRunner{
		baseDir:     filepath.Join(os.TempDir(), "jobs"),
		interpreter: "python3",
		logger:      qlog.Discard(),
		tailBytes:   DefaultTailBytes,
		baseCtx:     context.Background(),
		runs:        make(map[string]*Run),
		procs:       make(map[string]*runProcess),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start writes the script, reserves capacity and spawns the process.
// It returns as soon as the process is started. A spawn failure is not an
// error here: the run is recorded as failed and visible through GetRun.
func (r *LocalRunner) Start(ctx context.Context, spec JobSpec) (*Run, error) {
	// UUIDv7 keeps run directories lexicographically ordered by start time
	runID := spec.ID
	if runID == "" {
		uuidV7, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate UUID: %w", err)
		}
		runID = uuidV7.String()
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return nil, fmt.Errorf("invalid job id %q", runID)
	}

	r.mu.RLock()
	_, exists := r.runs[runID]
	r.mu.RUnlock()
	if exists {
		return nil, qerr.New(qerr.CodeConflict, fmt.Errorf("%s: %w", runID, ErrRunExists))
	}

	runDir := filepath.Join(r.baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	scriptPath := filepath.Join(runDir, scriptFile)
	if err := os.WriteFile(scriptPath, []byte(spec.Script), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	now := time.Now()
	run := &Run{
		ID:          runID,
		Status:      RunStatusRunning,
		Interpreter: r.interpreter,
		ScriptPath:  scriptPath,
		CPU:         spec.Resources.CPU,
		MemoryMB:    spec.Resources.MemoryMB,
		GPU:         spec.Resources.GPU,
		GPUIndices:  []int{},
		CreatedAt:   now,
		RunDir:      runDir,
		LogsPath:    filepath.Join(runDir, stdoutFile),
		StderrPath:  filepath.Join(runDir, stderrFile),
	}

	// Reserve before the process exists so a concurrent status read already
	// sees the deduction.
	if r.monitor != nil {
		res, err := r.monitor.Reserve(ctx, runID, spec.Resources)
		if err != nil {
			return nil, err
		}
		run.GPUIndices = res.GPUIndices
	}

	r.mu.Lock()
	if _, exists := r.runs[runID]; exists {
		r.mu.Unlock()
		r.release(runID)
		return nil, qerr.New(qerr.CodeConflict, fmt.Errorf("%s: %w", runID, ErrRunExists))
	}
	r.runs[runID] = run
	r.mu.Unlock()

	logger := r.logger.With("job_id", runID)

	proc, err := r.spawn(run, spec)
	if err != nil {
		logger.Error("job failed to start", "error", err)
		r.finishRunWithError(run, qerr.New(qerr.CodeSpawnFailure, err))
		return run.clone(), nil
	}

	logger.Info("job started", "pid", proc.cmd.Process.Pid, "cpu", run.CPU, "memory_mb", run.MemoryMB, "gpus", run.GPUIndices)

	r.mu.RLock()
	snapshot := run.clone()
	r.mu.RUnlock()

	go r.waitRun(run, proc)

	return snapshot, nil
}

func (r *LocalRunner) spawn(run *Run, spec JobSpec) (*runProcess, error) {
	execCtx, cancel := context.WithCancel(context.WithoutCancel(r.baseCtx))

	cmd := exec.CommandContext(execCtx, r.interpreter, run.ScriptPath)
	cmd.Dir = run.RunDir
	configureProcess(cmd)

	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	gpus := make([]string, len(run.GPUIndices))
	for i, idx := range run.GPUIndices {
		gpus[i] = strconv.Itoa(idx)
	}
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("JOBMAN_JOB_ID=%s", run.ID),
		fmt.Sprintf("JOBMAN_JOB_DIR=%s", run.RunDir),
		fmt.Sprintf("CUDA_VISIBLE_DEVICES=%s", strings.Join(gpus, ",")),
	)

	logFile, err := os.Create(run.LogsPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	errFile, err := os.Create(run.StderrPath)
	if err != nil {
		logFile.Close()
		cancel()
		return nil, fmt.Errorf("failed to create stderr file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = errFile

	proc := &runProcess{cmd: cmd, cancel: cancel, done: make(chan struct{})}

	// Track before starting so Cancel can find it
	r.mu.Lock()
	r.procs[run.ID] = proc
	r.mu.Unlock()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		errFile.Close()
		cancel()
		r.mu.Lock()
		delete(r.procs, run.ID)
		r.mu.Unlock()
		close(proc.done)
		return nil, err
	}

	startedAt := time.Now()
	r.mu.Lock()
	run.StartedAt = &startedAt
	r.mu.Unlock()
	r.saveRun(run)

	return proc, nil
}

// waitRun blocks until the process exits, then releases the reservation and
// records the terminal state.
func (r *LocalRunner) waitRun(run *Run, proc *runProcess) {
	defer close(proc.done)
	defer proc.cancel()

	err := proc.cmd.Wait()
	if f, ok := proc.cmd.Stdout.(io.Closer); ok {
		f.Close()
	}
	if f, ok := proc.cmd.Stderr.(io.Closer); ok {
		f.Close()
	}

	logger := r.logger.With("job_id", run.ID)
	finishTime := time.Now()

	r.mu.Lock()
	delete(r.procs, run.ID)
	r.release(run.ID)
	run.FinishedAt = &finishTime

	switch {
	case proc.cancelled:
		run.Status = RunStatusCancelled
	case err == nil:
		exitCode := 0
		run.ExitCode = &exitCode
		run.Status = RunStatusCompleted
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode := exitErr.ExitCode()
			run.ExitCode = &exitCode
		}
		run.Status = RunStatusFailed
		run.Error = qerr.New(qerr.CodeExecutionFailure, err).Error()
	}
	status, exitCode := run.Status, run.ExitCode
	r.mu.Unlock()

	switch status {
	case RunStatusFailed:
		logger.Error("job failed", "exit_code", derefInt(exitCode), "error", err)
	case RunStatusCancelled:
		logger.Warn("job cancelled")
	default:
		logger.Info("job completed", "duration", finishTime.Sub(run.CreatedAt).Round(time.Millisecond))
	}

	r.saveRun(run)
	r.uploadArtifacts(run)
}

func (r *LocalRunner) release(runID string) {
	if r.monitor != nil {
		r.monitor.Release(runID)
	}
}

func (r *LocalRunner) finishRunWithError(run *Run, err error) {
	now := time.Now()

	r.mu.Lock()
	r.release(run.ID)
	run.FinishedAt = &now
	run.Status = RunStatusFailed
	run.Error = err.Error()
	r.mu.Unlock()

	// Write error to stderr.log
	os.WriteFile(run.StderrPath, []byte(err.Error()), 0o644)
	r.saveRun(run)
}

func (r *LocalRunner) Wait(ctx context.Context, runID string) (*Run, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	// Poll for completion
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			run, err := r.GetRun(ctx, runID)
			if err != nil {
				return nil, err
			}
			if run.Status.Terminal() {
				return run, nil
			}
		}
	}
}

// GetRun returns a snapshot of a run. Runs from a previous agent process are
// read back from their run.json.
func (r *LocalRunner) GetRun(ctx context.Context, runID string) (*Run, error) {
	r.mu.RLock()
	run, ok := r.runs[runID]
	if ok {
		snapshot := run.clone()
		r.mu.RUnlock()
		return snapshot, nil
	}
	r.mu.RUnlock()

	if strings.ContainsAny(runID, `/\`) || runID == "" || runID == "." || runID == ".." {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}

	data, err := os.ReadFile(filepath.Join(r.baseDir, runID, runFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var stored Run
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	// A run left running by a dead agent process is no longer observable
	if !stored.Status.Terminal() {
		stored.Status = RunStatusFailed
		stored.Error = "agent restarted while job was running"
	}
	return &stored, nil
}

// Result returns the run along with the tail of its stdout and stderr.
func (r *LocalRunner) Result(ctx context.Context, runID string) (*Result, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	stdout, err := readTail(run.LogsPath, r.tailBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdout: %w", err)
	}
	stderr, err := readTail(run.StderrPath, r.tailBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read stderr: %w", err)
	}

	return &Result{Run: run, Stdout: stdout, Stderr: stderr}, nil
}

func (r *LocalRunner) Cancel(ctx context.Context, runID string) error {
	r.mu.Lock()
	proc, exists := r.procs[runID]
	if exists {
		proc.cancelled = true
	}
	r.mu.Unlock()

	if !exists {
		run, err := r.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s is %s: %w", runID, run.Status, ErrRunFinished)
	}

	// Cancelling the context kills the process group
	proc.cancel()
	return nil
}

// Close kills every running job and waits for their bookkeeping to finish.
func (r *LocalRunner) Close() error {
	r.mu.Lock()
	procs := make([]*runProcess, 0, len(r.procs))
	for _, p := range r.procs {
		p.cancelled = true
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		p.cancel()
		<-p.done
	}
	return nil
}

func (r *LocalRunner) ListRuns(ctx context.Context, status *RunStatus) ([]*Run, error) {
	r.mu.RLock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run.clone())
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (r *LocalRunner) saveRun(run *Run) error {
	r.mu.RLock()
	data, err := json.MarshalIndent(run, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := os.WriteFile(filepath.Join(run.RunDir, runFile), data, 0o644); err != nil {
		r.logger.Warn("failed to write run state", "job_id", run.ID, "error", err)
		return fmt.Errorf("failed to write run state: %w", err)
	}

	return nil
}

// uploadArtifacts pushes the script, logs and run record to storage if configured
func (r *LocalRunner) uploadArtifacts(run *Run) {
	if r.artifacts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.baseCtx), 2*time.Minute)
	defer cancel()

	var uploaded []RunArtifact
	for _, name := range []string{scriptFile, stdoutFile, stderrFile, runFile} {
		artifact, err := r.uploadFile(ctx, run.ID, filepath.Join(run.RunDir, name))
		if err != nil {
			r.logger.Warn("artifact upload failed", "job_id", run.ID, "file", name, "error", err)
			continue
		}
		uploaded = append(uploaded, *artifact)
	}

	r.mu.Lock()
	run.Artifacts = uploaded
	r.mu.Unlock()
	r.saveRun(run)
}

func (r *LocalRunner) uploadFile(ctx context.Context, runID, path string) (*RunArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	artifact, err := r.artifacts.PutJobFile(ctx, runID, filepath.Base(path), f, stat.Size())
	if err != nil {
		return nil, err
	}

	return &RunArtifact{
		Key:         artifact.Key,
		Filename:    artifact.Name,
		Size:        artifact.Size,
		ContentType: artifact.ContentType,
	}, nil
}

// readTail returns at most limit trailing bytes of the file at path.
// A missing file reads as empty.
func readTail(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	if stat.Size() > limit {
		if _, err := f.Seek(-limit, io.SeekEnd); err != nil {
			return "", err
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

var _ Runner = (*LocalRunner)(nil)
