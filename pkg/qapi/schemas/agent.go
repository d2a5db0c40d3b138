package schemas

import "github.com/quatton/jobman/pkg/qres"

// ResourceSpec is the resource declaration attached to a job
type ResourceSpec struct {
	CPU    int `json:"cpu,omitempty" minimum:"0" doc:"CPU cores"`
	Memory int `json:"memory,omitempty" minimum:"0" doc:"Memory in MB"`
	GPU    int `json:"gpu,omitempty" minimum:"0" doc:"Number of GPUs"`
}

// Request converts the wire form into a reservation request. A nil spec asks for nothing.
func (r *ResourceSpec) Request() qres.Request {
	if r == nil {
		return qres.Request{}
	}
	return qres.Request{CPU: r.CPU, MemoryMB: r.Memory, GPU: r.GPU}
}

// AgentStatus is an agent's free capacity
type AgentStatus struct {
	CPUFree      int   `json:"cpu_free" doc:"Free CPU cores, negative when oversubscribed"`
	MemFree      int64 `json:"mem_free" doc:"Free memory in MB, negative when oversubscribed"`
	GPUFree      int   `json:"gpu_free" doc:"Number of free GPUs"`
	GPUAvailable []int `json:"gpu_available" doc:"Indices of free GPUs"`
}

func NewAgentStatus(c qres.Capacity) AgentStatus {
	gpus := c.GPUAvailable
	if gpus == nil {
		gpus = []int{}
	}
	return AgentStatus{
		CPUFree:      c.CPUFree,
		MemFree:      c.MemFreeMB(),
		GPUFree:      c.GPUFree,
		GPUAvailable: gpus,
	}
}

// Capacity converts a reported status back to a capacity. Memory arrives in MB.
func (s AgentStatus) Capacity() qres.Capacity {
	return qres.Capacity{
		CPUFree:      s.CPUFree,
		MemFreeBytes: s.MemFree << 20,
		GPUFree:      s.GPUFree,
		GPUAvailable: s.GPUAvailable,
	}
}

// RunJobRequest asks an agent to start a script
type RunJobRequest struct {
	Script    string        `json:"script" doc:"Script body, run as <interpreter> <file>"`
	JobID     string        `json:"job_id,omitempty" pattern:"^[A-Za-z0-9][A-Za-z0-9._-]*$" maxLength:"128" doc:"Job ID (generated when omitted)"`
	Resources *ResourceSpec `json:"resources,omitempty" doc:"Resources to reserve while the job runs"`
}

// RunJobResponse acknowledges a started job
type RunJobResponse struct {
	Status string `json:"status" doc:"Always 'started'"`
	JobID  string `json:"job_id" doc:"Job ID"`
}

// JobArtifact is a stored job artifact
type JobArtifact struct {
	Key         string `json:"key" doc:"Storage key"`
	Filename    string `json:"filename" doc:"Original filename"`
	Size        int64  `json:"size" doc:"Size in bytes"`
	ContentType string `json:"content_type" doc:"MIME type"`
	URL         string `json:"url,omitempty" doc:"Download URL (presigned)"`
}

// JobResponse is an agent's view of one job
type JobResponse struct {
	JobID      string  `json:"job_id" doc:"Job ID"`
	Status     string  `json:"status" doc:"running, completed, failed or cancelled"`
	ExitCode   *int    `json:"exit_code,omitempty" doc:"Exit code once finished"`
	Error      string  `json:"error,omitempty" doc:"Failure reason"`
	CPU        int     `json:"cpu" doc:"Reserved CPU cores"`
	Memory     int     `json:"memory" doc:"Reserved memory in MB"`
	GPU        int     `json:"gpu" doc:"Requested GPUs"`
	GPUIndices []int   `json:"gpu_indices" doc:"Assigned GPU indices"`
	CreatedAt  string  `json:"created_at" doc:"Creation timestamp"`
	StartedAt  *string `json:"started_at,omitempty" doc:"Start timestamp"`
	FinishedAt *string `json:"finished_at,omitempty" doc:"Finish timestamp"`
}

// JobResultResponse is a job's status plus the tail of its output
type JobResultResponse struct {
	JobID     string        `json:"job_id" doc:"Job ID"`
	Status    string        `json:"status" doc:"Job status"`
	ExitCode  *int          `json:"exit_code,omitempty" doc:"Exit code once finished"`
	Error     string        `json:"error,omitempty" doc:"Failure reason"`
	Stdout    string        `json:"stdout" doc:"Tail of standard output"`
	Stderr    string        `json:"stderr" doc:"Tail of standard error"`
	Artifacts []JobArtifact `json:"artifacts" doc:"Uploaded artifacts"`
}

// CancelJobResponse acknowledges a cancellation
type CancelJobResponse struct {
	JobID  string `json:"job_id" doc:"Job ID"`
	Status string `json:"status" doc:"Always 'cancelling'"`
}
