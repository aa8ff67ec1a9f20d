// Package state is the sole gateway to the on-disk state tree rooted at a
// target project. Paths are partitioned into read-only inputs and writable
// artifacts; writable artifacts are schema-validated and replaced atomically.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/shepherd/internal/config"
	"github.com/metalagman/shepherd/internal/model"
)

// Default directory names relative to the project root.
const (
	DefaultStateDirName  = "ai"
	DefaultDesignDirName = "design"
)

// State file names inside the state directory.
const (
	ConfigFilename     = "config.json"
	GoalsFilename      = "GOALS.md"
	SourcesFilename    = "SOURCES.yaml"
	PlanFilename       = "PLAN.yaml"
	ActiveTaskFilename = "ACTIVE_TASK.yaml"
	SummaryFilename    = "SUMMARY.md"
	LastResultFilename = "LAST_RESULT.json"
	ProgressFilename   = "PROGRESS.yaml"
)

const defaultProgress = "objectives: {}\n"

// Store provides file-backed state access rooted at a target project.
type Store struct {
	ProjectRoot string
	StateDir    string
	DesignDir   string

	ConfigPath     string
	GoalsPath      string
	SourcesPath    string
	PlanPath       string
	ActiveTaskPath string
	SummaryPath    string
	LastResultPath string
	ProgressPath   string

	strict         bool
	jsonSubsetOnly bool

	readOnly map[string]struct{}
	writable map[string]struct{}
}

// New creates a store with default directory names and strict validation.
// It is used to bootstrap config loading before the configured store exists.
func New(projectRoot string) (*Store, error) {
	return newStore(projectRoot, DefaultStateDirName, DefaultDesignDirName, "", true, true)
}

// NewConfigured creates a store rooted on the configured directories. The
// bootstrap config path stays read-only regardless of the state dir.
func NewConfigured(projectRoot string, cfg config.Config, configPath string) (*Store, error) {
	return newStore(projectRoot, cfg.StateDir, cfg.DesignDir, configPath, cfg.StrictSchemaValidation, cfg.JSONSubsetOnly)
}

func newStore(projectRoot, stateDir, designDir, configPath string, strict, jsonSubsetOnly bool) (*Store, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, &MissingStateError{Path: root}
	}

	s := &Store{
		ProjectRoot:    root,
		StateDir:       filepath.Join(root, stateDir),
		DesignDir:      filepath.Join(root, designDir),
		strict:         strict,
		jsonSubsetOnly: jsonSubsetOnly,
	}
	if configPath == "" {
		configPath = filepath.Join(root, DefaultStateDirName, ConfigFilename)
	}
	s.ConfigPath = filepath.Clean(configPath)
	s.GoalsPath = filepath.Join(s.StateDir, GoalsFilename)
	s.SourcesPath = filepath.Join(s.StateDir, SourcesFilename)
	s.PlanPath = filepath.Join(s.StateDir, PlanFilename)
	s.ActiveTaskPath = filepath.Join(s.StateDir, ActiveTaskFilename)
	s.SummaryPath = filepath.Join(s.StateDir, SummaryFilename)
	s.LastResultPath = filepath.Join(s.StateDir, LastResultFilename)
	s.ProgressPath = filepath.Join(s.StateDir, ProgressFilename)

	s.readOnly = map[string]struct{}{
		s.ConfigPath:  {},
		s.GoalsPath:   {},
		s.SourcesPath: {},
	}
	s.writable = map[string]struct{}{
		s.PlanPath:       {},
		s.ActiveTaskPath: {},
		s.SummaryPath:    {},
		s.LastResultPath: {},
		s.ProgressPath:   {},
	}
	return s, nil
}

// IsReadOnlyPath reports whether a path may never be written by the shepherd.
func (s *Store) IsReadOnlyPath(path string) bool {
	resolved := filepath.Clean(path)
	if _, ok := s.readOnly[resolved]; ok {
		return true
	}
	return isWithin(resolved, s.DesignDir)
}

// IsWritablePath reports whether a path belongs to the writable artifact set.
func (s *Store) IsWritablePath(path string) bool {
	_, ok := s.writable[filepath.Clean(path)]
	return ok
}

// ActiveTaskFileExists reports whether the active-task lock file is on disk.
func (s *Store) ActiveTaskFileExists() bool {
	_, err := os.Stat(s.ActiveTaskPath)
	return err == nil
}

// PlanFileExists reports whether the plan file is on disk.
func (s *Store) PlanFileExists() bool {
	_, err := os.Stat(s.PlanPath)
	return err == nil
}

// LoadConfig loads and validates the configuration file.
func (s *Store) LoadConfig() (config.Config, error) {
	raw, err := s.readJSONMap(s.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	return config.FromMap(raw)
}

// LoadGoals loads the read-only goals document.
func (s *Store) LoadGoals() (string, error) {
	data, err := s.readText(s.GoalsPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LoadSources loads the read-only sources object.
func (s *Store) LoadSources() (map[string]any, error) {
	return s.readJSONMap(s.SourcesPath)
}

// LoadPlan loads and validates the plan.
func (s *Store) LoadPlan() (*model.Plan, error) {
	data, err := s.readText(s.PlanPath)
	if err != nil {
		return nil, err
	}
	if err := s.checkJSONObject(s.PlanPath, data); err != nil {
		return nil, err
	}
	if s.strict {
		if err := validateBytes("plan", planSchema, data); err != nil {
			return nil, err
		}
	}
	var plan model.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, newValidationError(fmt.Sprintf("%s: decode plan: %v", s.PlanPath, err))
	}
	return &plan, nil
}

// LoadActiveTask loads and validates the active-task projection.
func (s *Store) LoadActiveTask() (*model.ActiveTask, error) {
	data, err := s.readText(s.ActiveTaskPath)
	if err != nil {
		return nil, err
	}
	if err := s.checkJSONObject(s.ActiveTaskPath, data); err != nil {
		return nil, err
	}
	if s.strict {
		if err := validateBytes("active_task", activeTaskSchema, data); err != nil {
			return nil, err
		}
	}
	var task model.ActiveTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, newValidationError(fmt.Sprintf("%s: decode active task: %v", s.ActiveTaskPath, err))
	}
	return &task, nil
}

// LoadSummary loads the summary document, or an empty string if absent.
func (s *Store) LoadSummary() (string, error) {
	data, err := s.readText(s.SummaryPath)
	if err != nil {
		var missing *MissingStateError
		if errors.As(err, &missing) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// LoadLastResult loads the last agent result, or nil if absent.
func (s *Store) LoadLastResult() (map[string]any, error) {
	data, err := s.readText(s.LastResultPath)
	if err != nil {
		var missing *MissingStateError
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.checkJSONObject(s.LastResultPath, data); err != nil {
		return nil, err
	}
	if s.strict {
		if err := validateBytes("agent_result", agentResultSchema, data); err != nil {
			return nil, err
		}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, newValidationError(fmt.Sprintf("%s: decode result: %v", s.LastResultPath, err))
	}
	return payload, nil
}

// LoadProgress loads the progress snapshot text, or a safe default if absent.
func (s *Store) LoadProgress() (string, error) {
	data, err := s.readText(s.ProgressPath)
	if err != nil {
		var missing *MissingStateError
		if errors.As(err, &missing) {
			return defaultProgress, nil
		}
		return "", err
	}
	return string(data), nil
}

// WritePlan atomically replaces the plan after validation.
func (s *Store) WritePlan(plan *model.Plan) error {
	data, err := marshalJSON(s.PlanPath, plan)
	if err != nil {
		return err
	}
	if s.strict {
		if err := validateBytes("plan", planSchema, data); err != nil {
			return err
		}
	}
	return s.writeBytes(s.PlanPath, data)
}

// WriteActiveTask atomically replaces the active-task file after validation.
func (s *Store) WriteActiveTask(task *model.ActiveTask) error {
	data, err := marshalJSON(s.ActiveTaskPath, task)
	if err != nil {
		return err
	}
	if s.strict {
		if err := validateBytes("active_task", activeTaskSchema, data); err != nil {
			return err
		}
	}
	return s.writeBytes(s.ActiveTaskPath, data)
}

// WriteSummary atomically replaces the summary document.
func (s *Store) WriteSummary(content string) error {
	return s.writeBytes(s.SummaryPath, []byte(content))
}

// WriteLastResult atomically replaces the last agent result after validation.
func (s *Store) WriteLastResult(payload map[string]any) error {
	data, err := marshalJSON(s.LastResultPath, payload)
	if err != nil {
		return err
	}
	if s.strict {
		if err := validateBytes("agent_result", agentResultSchema, data); err != nil {
			return err
		}
	}
	return s.writeBytes(s.LastResultPath, data)
}

// WriteProgress atomically replaces the derived progress snapshot.
func (s *Store) WriteProgress(progress model.Progress) error {
	data, err := marshalJSON(s.ProgressPath, progress)
	if err != nil {
		return err
	}
	return s.writeBytes(s.ProgressPath, data)
}

// ClearActiveTask removes the active-task file if present.
func (s *Store) ClearActiveTask() error {
	if !s.ActiveTaskFileExists() {
		return nil
	}
	if err := s.ensureWritable(s.ActiveTaskPath); err != nil {
		return err
	}
	if err := os.Remove(s.ActiveTaskPath); err != nil {
		return fmt.Errorf("clear active task: %w", err)
	}
	return nil
}

func (s *Store) readText(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingStateError{Path: path}
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) readJSONMap(path string) (map[string]any, error) {
	data, err := s.readText(path)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, newValidationError(fmt.Sprintf("%s must contain JSON (YAML-compatible) object data: %v", path, err))
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, newValidationError(path + " must contain a JSON object")
	}
	return obj, nil
}

// checkJSONObject enforces the JSON-subset contract: the file must parse as
// JSON with an object at the top level, whatever its extension says.
func (s *Store) checkJSONObject(path string, data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return newValidationError(fmt.Sprintf("%s must contain JSON (YAML-compatible) object data: %v", path, err))
	}
	if _, ok := value.(map[string]any); !ok {
		return newValidationError(path + " must contain a JSON object")
	}
	return nil
}

func (s *Store) writeBytes(path string, payload []byte) error {
	if err := s.ensureWritable(path); err != nil {
		return err
	}
	parent := filepath.Dir(path)
	if _, err := os.Stat(parent); err != nil {
		return &MissingStateError{Path: parent}
	}
	return atomicWrite(path, payload)
}

func (s *Store) ensureWritable(path string) error {
	resolved := filepath.Clean(path)
	if _, ok := s.readOnly[resolved]; ok {
		return &ReadOnlyError{Path: resolved}
	}
	if isWithin(resolved, s.DesignDir) {
		return &ReadOnlyError{Path: resolved}
	}
	if _, ok := s.writable[resolved]; !ok {
		return &UnknownPathError{Path: resolved}
	}
	return nil
}

// atomicWrite writes payload to a temporary file in the target directory and
// renames it over the target. The rename is the commit point; the temporary
// is unlinked on every failure path.
func atomicWrite(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(payload)
	closeErr := tmp.Close()
	if writeErr == nil && closeErr == nil {
		renameErr := os.Rename(tmpName, path)
		if renameErr == nil {
			return nil
		}
		writeErr = renameErr
	}
	_ = os.Remove(tmpName)
	if writeErr == nil {
		writeErr = closeErr
	}
	return fmt.Errorf("atomic write %s: %w", path, writeErr)
}

func marshalJSON(path string, value any) ([]byte, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, newValidationError(fmt.Sprintf("JSON content for %s is not serializable: %v", path, err))
	}
	return append(data, '\n'), nil
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
