// Package model defines the core data structures for shepherd.
package model

// ObjectiveStatus is the derived status of an objective.
type ObjectiveStatus string

// Objective statuses.
const (
	ObjectivePending    ObjectiveStatus = "pending"
	ObjectiveInProgress ObjectiveStatus = "in_progress"
	ObjectiveComplete   ObjectiveStatus = "complete"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

// Task statuses.
const (
	TaskPending TaskStatus = "pending"
	TaskActive  TaskStatus = "active"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskBlocked TaskStatus = "blocked"
)

// Agent result statuses reported on the wire.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultBlocked = "blocked"
)

// Plan is the durable schedule: objectives and the tasks that serve them.
// Task order in the file is the execution order.
type Plan struct {
	Version    int         `json:"version"`
	Objectives []Objective `json:"objectives"`
	Tasks      []Task      `json:"tasks"`
}

// Objective groups tasks; its status is derived from them.
type Objective struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Status ObjectiveStatus `json:"status"`
}

// Task is a single unit of agent work.
type Task struct {
	ID              string     `json:"id"`
	Objective       string     `json:"objective"`
	DerivedFrom     string     `json:"derived_from"`
	Status          TaskStatus `json:"status"`
	DependsOn       []string   `json:"depends_on,omitempty"`
	Scope           []string   `json:"scope,omitempty"`
	SuccessCriteria []string   `json:"success_criteria,omitempty"`
}

// ActiveTask is the task projection handed to the agent. Its file on disk
// marks a task in flight; a surviving file halts the next run.
type ActiveTask struct {
	Task
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Progress is the derived id->status snapshot. Never authoritative.
type Progress struct {
	Objectives map[string]ObjectiveStatus `json:"objectives"`
	Tasks      map[string]TaskStatus      `json:"tasks"`
}

// NewProgress derives the progress snapshot from a plan.
func NewProgress(plan *Plan) Progress {
	p := Progress{
		Objectives: make(map[string]ObjectiveStatus, len(plan.Objectives)),
		Tasks:      make(map[string]TaskStatus, len(plan.Tasks)),
	}
	for _, obj := range plan.Objectives {
		p.Objectives[obj.ID] = obj.Status
	}
	for _, t := range plan.Tasks {
		p.Tasks[t.ID] = t.Status
	}
	return p
}
