package routes

type Tag string

const (
	TagAgent     Tag = "agent"
	TagScheduler Tag = "scheduler"
	TagJobs      Tag = "jobs"
	TagHealth    Tag = "health"
)

func (t Tag) String() string { return string(t) }
