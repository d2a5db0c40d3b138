package schemas

// SubmitRequest is a job submitted to the scheduler
type SubmitRequest struct {
	Code      string        `json:"code" doc:"Script body"`
	Resources *ResourceSpec `json:"resources,omitempty" doc:"Resources the job needs. Without it any live agent is chosen"`
}

// SubmitResponse carries the id of an accepted job
type SubmitResponse struct {
	JobID string `json:"job_id" doc:"Job ID"`
}

// JobSummary is one entry of the scheduler's job directory
type JobSummary struct {
	JobID  string `json:"job_id" doc:"Job ID"`
	Status string `json:"status" doc:"Last known status"`
	Agent  string `json:"agent" doc:"Name of the agent running the job"`
}

// AgentInfo is a registered agent with the result of a live probe
type AgentInfo struct {
	Name      string       `json:"name" doc:"Agent name"`
	URL       string       `json:"url" doc:"Agent base URL"`
	Reachable bool         `json:"reachable" doc:"Whether the probe succeeded"`
	Capacity  *AgentStatus `json:"capacity,omitempty" doc:"Free capacity, when reachable"`
}

// ErrorBody is the body of every non-2xx response
type ErrorBody struct {
	Error string `json:"error"`
}

// HealthResponse reports liveness
type HealthResponse struct {
	Status  string `json:"status" doc:"Always 'ok'"`
	Service string `json:"service" doc:"agent or scheduler"`
	Name    string `json:"name,omitempty" doc:"Instance name"`
}
