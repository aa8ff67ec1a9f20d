package planner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/shepherd/internal/model"
	"github.com/metalagman/shepherd/internal/state"
)

func newTestPlanner(t *testing.T) (*Planner, *state.Store) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "ai"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "design"), 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := state.New(root)
	if err != nil {
		t.Fatal(err)
	}
	return New(store), store
}

func task(id, objective string, status model.TaskStatus, deps ...string) model.Task {
	return model.Task{
		ID:          id,
		Objective:   objective,
		DerivedFrom: "design/spec.md",
		Status:      status,
		DependsOn:   deps,
	}
}

func TestEnsurePlanCreatesMinimalPlan(t *testing.T) {
	t.Parallel()

	p, store := newTestPlanner(t)
	plan, err := p.EnsurePlan()
	if err != nil {
		t.Fatalf("EnsurePlan() error = %v", err)
	}
	if plan.Version != 1 || len(plan.Objectives) != 0 || len(plan.Tasks) != 0 {
		t.Fatalf("EnsurePlan() = %+v, want empty v1 plan", plan)
	}
	if !store.PlanFileExists() {
		t.Fatal("EnsurePlan() did not persist the plan file")
	}

	// A second call loads the persisted plan instead of rewriting it.
	again, err := p.EnsurePlan()
	if err != nil {
		t.Fatalf("EnsurePlan() second call error = %v", err)
	}
	if again.Version != 1 {
		t.Fatalf("EnsurePlan() second call version = %d, want 1", again.Version)
	}
}

func TestSelectNextTaskDocumentOrder(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlanner(t)
	plan := &model.Plan{
		Version:    1,
		Objectives: []model.Objective{},
		Tasks: []model.Task{
			task("t1", "o1", model.TaskDone),
			task("t2", "o1", model.TaskPending),
			task("t3", "o1", model.TaskPending),
		},
	}
	selected, err := p.SelectNextTask(plan)
	if err != nil {
		t.Fatalf("SelectNextTask() error = %v", err)
	}
	if selected.ID != "t2" {
		t.Fatalf("SelectNextTask() = %s, want t2", selected.ID)
	}
}

func TestSelectNextTaskDependencyGating(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlanner(t)
	plan := &model.Plan{
		Version:    1,
		Objectives: []model.Objective{},
		Tasks: []model.Task{
			task("t1", "o1", model.TaskPending, "t2"),
			task("t2", "o1", model.TaskPending),
		},
	}
	selected, err := p.SelectNextTask(plan)
	if err != nil {
		t.Fatalf("SelectNextTask() error = %v", err)
	}
	if selected.ID != "t2" {
		t.Fatalf("SelectNextTask() = %s, want t2 (t1 gated on t2)", selected.ID)
	}

	plan.Tasks[1].Status = model.TaskDone
	selected, err = p.SelectNextTask(plan)
	if err != nil {
		t.Fatalf("SelectNextTask() after dependency done error = %v", err)
	}
	if selected.ID != "t1" {
		t.Fatalf("SelectNextTask() = %s, want t1", selected.ID)
	}
}

func TestSelectNextTaskNoEligible(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlanner(t)
	plan := &model.Plan{
		Version:    1,
		Objectives: []model.Objective{},
		Tasks: []model.Task{
			task("t1", "o1", model.TaskDone),
			task("t2", "o1", model.TaskFailed),
		},
	}
	_, err := p.SelectNextTask(plan)
	if !errors.Is(err, ErrNoTasks) {
		t.Fatalf("SelectNextTask() error = %v, want ErrNoTasks", err)
	}
}

func TestSelectNextTaskErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tasks []model.Task
	}{
		{
			name: "active task without context",
			tasks: []model.Task{
				task("t1", "o1", model.TaskActive),
			},
		},
		{
			name: "duplicate id",
			tasks: []model.Task{
				task("t1", "o1", model.TaskPending),
				task("t1", "o1", model.TaskPending),
			},
		},
		{
			name: "dangling dependency",
			tasks: []model.Task{
				task("t1", "o1", model.TaskPending, "missing"),
			},
		},
		{
			name: "empty id",
			tasks: []model.Task{
				task("", "o1", model.TaskPending),
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newTestPlanner(t)
			plan := &model.Plan{Version: 1, Objectives: []model.Objective{}, Tasks: tc.tasks}
			_, err := p.SelectNextTask(plan)
			var pErr *Error
			if !errors.As(err, &pErr) {
				t.Fatalf("SelectNextTask() error = %v, want planner error", err)
			}
		})
	}
}

func TestActivateAndFinalize(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlanner(t)
	plan := &model.Plan{
		Version: 1,
		Objectives: []model.Objective{
			{ID: "o1", Source: "GOALS.md", Status: model.ObjectivePending},
		},
		Tasks: []model.Task{task("t1", "o1", model.TaskPending)},
	}

	active, err := p.ActivateTask(plan, "t1", 90)
	if err != nil {
		t.Fatalf("ActivateTask() error = %v", err)
	}
	if active.TimeoutSeconds != 90 || active.Status != model.TaskActive {
		t.Fatalf("ActivateTask() = %+v, want active with timeout 90", active)
	}
	if plan.Tasks[0].Status != model.TaskActive {
		t.Fatalf("plan task status = %s, want active", plan.Tasks[0].Status)
	}
	if plan.Objectives[0].Status != model.ObjectiveInProgress {
		t.Fatalf("objective status = %s, want in_progress", plan.Objectives[0].Status)
	}

	if err := p.FinalizeTask(plan, "t1", model.TaskDone); err != nil {
		t.Fatalf("FinalizeTask() error = %v", err)
	}
	if plan.Objectives[0].Status != model.ObjectiveComplete {
		t.Fatalf("objective status = %s, want complete", plan.Objectives[0].Status)
	}

	if err := p.ResetTaskForRetry(plan, "t1"); err != nil {
		t.Fatalf("ResetTaskForRetry() error = %v", err)
	}
	if plan.Tasks[0].Status != model.TaskPending {
		t.Fatalf("task status after reset = %s, want pending", plan.Tasks[0].Status)
	}
	if plan.Objectives[0].Status != model.ObjectivePending {
		t.Fatalf("objective status after reset = %s, want pending", plan.Objectives[0].Status)
	}

	if err := p.FinalizeTask(plan, "nope", model.TaskDone); err == nil {
		t.Fatal("FinalizeTask(nope) error = nil, want planner error")
	}
}

func TestObjectiveRollup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []model.TaskStatus
		want     model.ObjectiveStatus
	}{
		{name: "all done", statuses: []model.TaskStatus{model.TaskDone, model.TaskDone}, want: model.ObjectiveComplete},
		{name: "one active", statuses: []model.TaskStatus{model.TaskActive, model.TaskPending}, want: model.ObjectiveInProgress},
		{name: "one failed", statuses: []model.TaskStatus{model.TaskFailed, model.TaskPending}, want: model.ObjectiveInProgress},
		{name: "one blocked", statuses: []model.TaskStatus{model.TaskBlocked}, want: model.ObjectiveInProgress},
		{name: "done and pending", statuses: []model.TaskStatus{model.TaskDone, model.TaskPending}, want: model.ObjectiveInProgress},
		{name: "all pending", statuses: []model.TaskStatus{model.TaskPending, model.TaskPending}, want: model.ObjectivePending},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan := &model.Plan{
				Version: 1,
				Objectives: []model.Objective{
					{ID: "o1", Source: "s", Status: model.ObjectivePending},
				},
				Tasks: []model.Task{},
			}
			for i, st := range tc.statuses {
				plan.Tasks = append(plan.Tasks, task(string(rune('a'+i)), "o1", st))
			}
			refreshObjectiveStatuses(plan)
			if plan.Objectives[0].Status != tc.want {
				t.Fatalf("rollup(%v) = %s, want %s", tc.statuses, plan.Objectives[0].Status, tc.want)
			}
		})
	}
}

func TestObjectiveWithoutTasksKeepsStatus(t *testing.T) {
	t.Parallel()

	plan := &model.Plan{
		Version: 1,
		Objectives: []model.Objective{
			{ID: "o1", Source: "s", Status: model.ObjectiveComplete},
		},
		Tasks: []model.Task{task("t1", "other", model.TaskPending)},
	}
	refreshObjectiveStatuses(plan)
	if plan.Objectives[0].Status != model.ObjectiveComplete {
		t.Fatalf("unrelated objective status = %s, want complete retained", plan.Objectives[0].Status)
	}
}

func TestWriteProgressIdempotent(t *testing.T) {
	t.Parallel()

	p, store := newTestPlanner(t)
	plan := &model.Plan{
		Version: 1,
		Objectives: []model.Objective{
			{ID: "o1", Source: "s", Status: model.ObjectivePending},
		},
		Tasks: []model.Task{task("t1", "o1", model.TaskPending)},
	}
	if err := p.WriteProgress(plan); err != nil {
		t.Fatalf("WriteProgress() error = %v", err)
	}
	first, err := os.ReadFile(store.ProgressPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.WriteProgress(plan); err != nil {
		t.Fatalf("WriteProgress() second call error = %v", err)
	}
	second, err := os.ReadFile(store.ProgressPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("WriteProgress() not byte-idempotent:\n%s\nvs\n%s", first, second)
	}

	want := "{\n  \"objectives\": {\n    \"o1\": \"pending\"\n  },\n  \"tasks\": {\n    \"t1\": \"pending\"\n  }\n}\n"
	if string(first) != want {
		t.Fatalf("progress content = %q, want %q", first, want)
	}
}

func TestAppendSummaryInstallsHeader(t *testing.T) {
	t.Parallel()

	p, store := newTestPlanner(t)
	if err := p.AppendSummary("Task t1: success"); err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}
	content, err := os.ReadFile(store.SummaryPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "# Execution Summary\n\n(No execution has occurred yet.)\n\nTask t1: success\n"
	if string(content) != want {
		t.Fatalf("summary = %q, want %q", content, want)
	}
}

func TestAppendSummaryAppendsWithSeparator(t *testing.T) {
	t.Parallel()

	p, store := newTestPlanner(t)
	if err := p.AppendSummary("first entry"); err != nil {
		t.Fatal(err)
	}
	if err := p.AppendSummary("second entry\n"); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(store.SummaryPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "# Execution Summary\n\n(No execution has occurred yet.)\n\nfirst entry\n\nsecond entry\n"
	if string(content) != want {
		t.Fatalf("summary = %q, want %q", content, want)
	}
}

func TestAppendSummaryTreatsBlankFileAsEmpty(t *testing.T) {
	t.Parallel()

	p, store := newTestPlanner(t)
	if err := store.WriteSummary("   \n\n"); err != nil {
		t.Fatal(err)
	}
	if err := p.AppendSummary("entry"); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(store.SummaryPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "# Execution Summary\n\n(No execution has occurred yet.)\n\nentry\n"
	if string(content) != want {
		t.Fatalf("summary = %q, want %q", content, want)
	}
}
