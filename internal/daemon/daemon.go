// Package daemon implements the shepherd control loop: one task at a time,
// durable state transitions, and orderly halts on every defined condition.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metalagman/shepherd/internal/agent"
	"github.com/metalagman/shepherd/internal/config"
	"github.com/metalagman/shepherd/internal/model"
	"github.com/metalagman/shepherd/internal/planner"
	"github.com/metalagman/shepherd/internal/policy"
	"github.com/metalagman/shepherd/internal/state"
	"github.com/metalagman/shepherd/internal/watchdog"
)

// retryClampLimit is the hard upper bound on per-task retries per run.
// A load-bearing safety invariant, regardless of what the config asks for.
const retryClampLimit = 1

// stopError requests an orderly halt of the run. It is logged as the halt
// cause and never escapes the daemon.
type stopError struct {
	reason string
}

func (e *stopError) Error() string { return e.reason }

func stopf(format string, args ...any) *stopError {
	return &stopError{reason: fmt.Sprintf(format, args...)}
}

// taskRunner abstracts the agent client for a single task execution.
type taskRunner interface {
	RunTask(ctx context.Context, payload map[string]any) (*agent.Result, error)
}

// Daemon supervises the plan: select, activate, execute, enforce, persist.
type Daemon struct {
	logger    zerolog.Logger
	cfg       config.Config
	store     *state.Store
	planner   *planner.Planner
	tracker   *watchdog.RetryTracker
	newRunner func() taskRunner
}

// New wires the daemon from its collaborators, applying the retry clamp.
func New(logger zerolog.Logger, cfg config.Config, store *state.Store) *Daemon {
	maxRetries := cfg.MaxRetriesPerTask
	if maxRetries > retryClampLimit {
		logger.Warn().
			Int("configured", cfg.MaxRetriesPerTask).
			Int("effective", retryClampLimit).
			Msg("max_retries_per_task exceeds safety limit; clamped")
		maxRetries = retryClampLimit
	}
	d := &Daemon{
		logger:  logger,
		cfg:     cfg,
		store:   store,
		planner: planner.New(store),
		tracker: watchdog.NewRetryTracker(maxRetries, cfg.MaxConsecutiveFailures),
	}
	d.newRunner = func() taskRunner {
		return agent.NewClient(cfg.AgentCommand, cfg.StartupTimeoutSeconds, cfg.TaskTimeoutSeconds)
	}
	return d
}

// Run executes the shepherd. Setup failures (missing directories or inputs)
// are returned to the caller; every halt condition reached from inside the
// loop is logged and absorbed so the process exits cleanly.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().Msg("Shepherd starting.")

	if err := d.validateStateDirectories(); err != nil {
		return err
	}
	if _, err := d.store.LoadGoals(); err != nil {
		return err
	}
	if _, err := d.store.LoadSources(); err != nil {
		return err
	}

	err := d.runLoop(ctx)
	if err != nil {
		var stop *stopError
		switch {
		case errors.As(err, &stop):
			d.logger.Error().Str("cause", stop.reason).Msg("Execution stopped.")
			err = nil
		case isDefinedHalt(err):
			d.logger.Error().Str("cause", err.Error()).Msg("Execution halted.")
			err = nil
		}
	}
	d.logger.Info().Msg("Shepherd exiting.")
	return err
}

// isDefinedHalt reports whether the error belongs to the defined halt
// taxonomy: state, planner, policy, or agent failures.
func isDefinedHalt(err error) bool {
	var (
		missing    *state.MissingStateError
		readOnly   *state.ReadOnlyError
		unknown    *state.UnknownPathError
		validation *state.ValidationError
		cfgErr     *config.ValidationError
		planErr    *planner.Error
		violation  *policy.ViolationError
	)
	return errors.As(err, &missing) ||
		errors.As(err, &readOnly) ||
		errors.As(err, &unknown) ||
		errors.As(err, &validation) ||
		errors.As(err, &cfgErr) ||
		errors.As(err, &planErr) ||
		errors.As(err, &violation) ||
		errors.Is(err, agent.ErrProcess) ||
		errors.Is(err, agent.ErrProtocol) ||
		errors.Is(err, agent.ErrTimeout)
}

func (d *Daemon) validateStateDirectories() error {
	if !dirExists(d.store.StateDir) {
		return &state.MissingStateError{Path: d.store.StateDir}
	}
	if !dirExists(d.store.DesignDir) {
		return &state.MissingStateError{Path: d.store.DesignDir}
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (d *Daemon) runLoop(ctx context.Context) error {
	for {
		if d.store.ActiveTaskFileExists() {
			return stopf("%s exists; manual intervention required", state.ActiveTaskFilename)
		}

		plan, err := d.planner.EnsurePlan()
		if err != nil {
			return err
		}
		task, err := d.planner.SelectNextTask(plan)
		if errors.Is(err, planner.ErrNoTasks) {
			if err := d.planner.WriteProgress(plan); err != nil {
				return err
			}
			d.logger.Info().Msg("No pending tasks available. Stopping.")
			return nil
		}
		if err != nil {
			return err
		}

		active, err := d.planner.ActivateTask(plan, task.ID, d.cfg.TaskTimeoutSeconds)
		if err != nil {
			return err
		}
		if err := d.store.WritePlan(plan); err != nil {
			return err
		}
		if err := d.planner.WriteProgress(plan); err != nil {
			return err
		}
		if err := d.store.WriteActiveTask(active); err != nil {
			return err
		}
		d.logger.Info().Str("task_id", task.ID).Msg("Task activated.")

		result, err := d.newRunner().RunTask(ctx, map[string]any{"task": active})
		if err != nil {
			if errors.Is(err, agent.ErrTimeout) {
				// The active-task file survives as the crash marker; the
				// next run halts at loop start.
				return stopf("%s", err.Error())
			}
			return err
		}

		if err := d.store.ClearActiveTask(); err != nil {
			return err
		}
		if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
			d.logger.Warn().Str("stderr", stderr).Msg("Agent stderr.")
		}
		if err := d.store.WriteLastResult(result.Payload); err != nil {
			return err
		}

		status, _ := result.Payload["status"].(string)
		d.logger.Info().Str("task_id", task.ID).Str("status", status).Msg("Agent returned.")

		filesChanged, _ := result.Payload["files_changed"].([]any)
		if err := policy.AssertNoForbiddenChanges(filesChanged, d.store.ProjectRoot, d.store.DesignDir, d.store.StateDir); err != nil {
			return err
		}

		switch status {
		case model.ResultSuccess:
			if err := d.concludeIteration(plan, task.ID, model.TaskDone, status, result.Payload); err != nil {
				return err
			}
			d.tracker.RecordSuccess(task.ID)
			continue

		case model.ResultBlocked:
			if err := d.concludeIteration(plan, task.ID, model.TaskBlocked, status, result.Payload); err != nil {
				return err
			}
			return stopf("Agent reported blocked.")

		case model.ResultFailed:
			d.tracker.RecordFailure(task.ID)
			// The consecutive ceiling is authoritative: check it before
			// deciding whether to reset for retry.
			if d.tracker.TooManyConsecutiveFailures() {
				return stopf("Max consecutive failures reached.")
			}
			if d.tracker.CanRetry(task.ID) {
				if err := d.planner.ResetTaskForRetry(plan, task.ID); err != nil {
					return err
				}
				if err := d.persistIteration(plan, task.ID, status, result.Payload); err != nil {
					return err
				}
				continue
			}
			if err := d.concludeIteration(plan, task.ID, model.TaskFailed, status, result.Payload); err != nil {
				return err
			}
			return stopf("Task failed more than once.")

		default:
			return stopf("Unexpected agent status: %v", result.Payload["status"])
		}
	}
}

// concludeIteration finalizes the task and makes the iteration durable in
// the committed order: plan, progress, summary.
func (d *Daemon) concludeIteration(plan *model.Plan, taskID string, final model.TaskStatus, status string, payload map[string]any) error {
	if err := d.planner.FinalizeTask(plan, taskID, final); err != nil {
		return err
	}
	return d.persistIteration(plan, taskID, status, payload)
}

func (d *Daemon) persistIteration(plan *model.Plan, taskID, status string, payload map[string]any) error {
	if err := d.store.WritePlan(plan); err != nil {
		return err
	}
	if err := d.planner.WriteProgress(plan); err != nil {
		return err
	}
	return d.planner.AppendSummary(summaryEntry(taskID, status, payload))
}

func summaryEntry(taskID, status string, payload map[string]any) string {
	filesChanged, _ := payload["files_changed"].([]any)
	testsRun, _ := payload["tests_run"].([]any)
	notes, _ := payload["notes"].(string)
	return fmt.Sprintf("Task %s: %s\nFiles changed: %d\nTests run: %d\nNotes: %s",
		taskID, status, len(filesChanged), len(testsRun), notes)
}
