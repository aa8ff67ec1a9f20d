// Package planner implements deterministic task selection and plan mutation.
package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/shepherd/internal/model"
	"github.com/metalagman/shepherd/internal/state"
)

// ErrNoTasks signals that no pending task is eligible for execution.
var ErrNoTasks = errors.New("no pending tasks available")

// Error reports malformed or ambiguous planning state.
type Error struct {
	msg string
}

func newError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

// Planner performs pure operations over the in-memory plan, persisting
// derived artifacts through the state store.
type Planner struct {
	store *state.Store
}

// New creates a planner over the given store.
func New(store *state.Store) *Planner {
	return &Planner{store: store}
}

// EnsurePlan loads the plan, materializing and persisting a minimal empty
// plan when the file is absent.
func (p *Planner) EnsurePlan() (*model.Plan, error) {
	if !p.store.PlanFileExists() {
		plan := &model.Plan{
			Version:    1,
			Objectives: []model.Objective{},
			Tasks:      []model.Task{},
		}
		if err := p.store.WritePlan(plan); err != nil {
			return nil, err
		}
		return plan, nil
	}
	return p.store.LoadPlan()
}

// SelectNextTask scans tasks in document order and returns the first pending
// task whose dependencies are all done. The plan file is the schedule; there
// is no priority field. Returns ErrNoTasks when nothing is eligible.
func (p *Planner) SelectNextTask(plan *model.Plan) (*model.Task, error) {
	byID, err := taskMap(plan.Tasks)
	if err != nil {
		return nil, err
	}
	for i := range plan.Tasks {
		task := &plan.Tasks[i]
		if task.Status == model.TaskActive {
			return nil, newError("plan contains an active task without execution context")
		}
		if task.Status != model.TaskPending {
			continue
		}
		satisfied, err := dependenciesSatisfied(task.DependsOn, byID)
		if err != nil {
			return nil, err
		}
		if !satisfied {
			continue
		}
		return task, nil
	}
	return nil, ErrNoTasks
}

// ActivateTask marks the task active, refreshes objective statuses, and
// returns the active-task projection carrying the execution timeout.
func (p *Planner) ActivateTask(plan *model.Plan, taskID string, timeoutSeconds int) (*model.ActiveTask, error) {
	task, err := findTask(plan, taskID)
	if err != nil {
		return nil, err
	}
	task.Status = model.TaskActive
	refreshObjectiveStatuses(plan)
	return &model.ActiveTask{Task: *task, TimeoutSeconds: timeoutSeconds}, nil
}

// FinalizeTask sets the task's terminal status and refreshes objectives.
func (p *Planner) FinalizeTask(plan *model.Plan, taskID string, status model.TaskStatus) error {
	task, err := findTask(plan, taskID)
	if err != nil {
		return err
	}
	task.Status = status
	refreshObjectiveStatuses(plan)
	return nil
}

// ResetTaskForRetry returns the task to pending and refreshes objectives.
func (p *Planner) ResetTaskForRetry(plan *model.Plan, taskID string) error {
	task, err := findTask(plan, taskID)
	if err != nil {
		return err
	}
	task.Status = model.TaskPending
	refreshObjectiveStatuses(plan)
	return nil
}

// WriteProgress derives the id->status snapshot and persists it.
func (p *Planner) WriteProgress(plan *model.Plan) error {
	return p.store.WriteProgress(model.NewProgress(plan))
}

const summaryHeader = "# Execution Summary\n\n(No execution has occurred yet.)\n\n"

// AppendSummary appends an entry to the summary document, installing the
// standard header when the document is absent or blank. Every entry ends
// with a newline.
func (p *Planner) AppendSummary(entry string) error {
	if !strings.HasSuffix(entry, "\n") {
		entry += "\n"
	}
	existing, err := p.store.LoadSummary()
	if err != nil {
		return err
	}
	var content string
	if strings.TrimSpace(existing) == "" {
		content = summaryHeader + entry
	} else {
		content = strings.TrimRight(existing, " \t\r\n") + "\n\n" + entry
	}
	return p.store.WriteSummary(content)
}

func taskMap(tasks []model.Task) (map[string]*model.Task, error) {
	byID := make(map[string]*model.Task, len(tasks))
	for i := range tasks {
		id := tasks[i].ID
		if id == "" {
			return nil, newError("task id must be a non-empty string")
		}
		if _, dup := byID[id]; dup {
			return nil, newError("duplicate task id: %s", id)
		}
		byID[id] = &tasks[i]
	}
	return byID, nil
}

func dependenciesSatisfied(dependsOn []string, byID map[string]*model.Task) (bool, error) {
	for _, dep := range dependsOn {
		depTask, ok := byID[dep]
		if !ok {
			return false, newError("dependency not found: %s", dep)
		}
		if depTask.Status != model.TaskDone {
			return false, nil
		}
	}
	return true, nil
}

func findTask(plan *model.Plan, taskID string) (*model.Task, error) {
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == taskID {
			return &plan.Tasks[i], nil
		}
	}
	return nil, newError("task not found: %s", taskID)
}

// refreshObjectiveStatuses recomputes each objective's status from its
// related tasks. Objectives with no related tasks keep their prior status.
func refreshObjectiveStatuses(plan *model.Plan) {
	related := make(map[string][]model.TaskStatus, len(plan.Objectives))
	for _, task := range plan.Tasks {
		related[task.Objective] = append(related[task.Objective], task.Status)
	}

	for i := range plan.Objectives {
		obj := &plan.Objectives[i]
		statuses := related[obj.ID]
		if len(statuses) == 0 {
			continue
		}
		allDone := true
		started := false
		for _, st := range statuses {
			if st != model.TaskDone {
				allDone = false
			}
			switch st {
			case model.TaskActive, model.TaskDone, model.TaskFailed, model.TaskBlocked:
				started = true
			}
		}
		switch {
		case allDone:
			obj.Status = model.ObjectiveComplete
		case started:
			obj.Status = model.ObjectiveInProgress
		default:
			obj.Status = model.ObjectivePending
		}
	}
}
