// Package config provides configuration loading and validation for shepherd.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Config is the shepherd runtime configuration, loaded once at startup and
// immutable thereafter.
type Config struct {
	AgentCommand           string
	StartupTimeoutSeconds  int
	TaskTimeoutSeconds     int
	MaxRetriesPerTask      int
	MaxConsecutiveFailures int
	OneTaskAtATime         bool
	DesignDir              string
	StateDir               string
	StrictSchemaValidation bool
	JSONSubsetOnly         bool
	LogLevel               string
	LogFile                string
}

// fileConfig mirrors the on-disk section layout of config.json.
type fileConfig struct {
	Agent struct {
		Command               string `mapstructure:"command"`
		StartupTimeoutSeconds int    `mapstructure:"startup_timeout_seconds"`
	} `mapstructure:"agent"`
	Execution struct {
		TaskTimeoutSeconds     int  `mapstructure:"task_timeout_seconds"`
		MaxRetriesPerTask      int  `mapstructure:"max_retries_per_task"`
		MaxConsecutiveFailures int  `mapstructure:"max_consecutive_failures"`
		OneTaskAtATime         bool `mapstructure:"one_task_at_a_time"`
	} `mapstructure:"execution"`
	Paths struct {
		DesignDir string `mapstructure:"design_dir"`
		StateDir  string `mapstructure:"state_dir"`
	} `mapstructure:"paths"`
	Validation struct {
		StrictSchemaValidation bool `mapstructure:"strict_schema_validation"`
		JSONSubsetOnly         bool `mapstructure:"json_subset_only"`
	} `mapstructure:"validation"`
	Logging struct {
		Level   string `mapstructure:"level"`
		LogFile string `mapstructure:"log_file"`
	} `mapstructure:"logging"`
}

var logLevels = map[string]struct{}{
	"debug":    {},
	"info":     {},
	"warning":  {},
	"error":    {},
	"critical": {},
}

// FromMap validates raw config settings and decodes them into a Config.
func FromMap(settings map[string]any) (Config, error) {
	if err := ValidateSettings(settings); err != nil {
		return Config{}, err
	}

	var raw fileConfig
	if err := mapstructure.Decode(settings, &raw); err != nil {
		return Config{}, newValidationError(fmt.Sprintf("config: decode settings: %v", err))
	}

	cfg := Config{
		AgentCommand:           raw.Agent.Command,
		StartupTimeoutSeconds:  raw.Agent.StartupTimeoutSeconds,
		TaskTimeoutSeconds:     raw.Execution.TaskTimeoutSeconds,
		MaxRetriesPerTask:      raw.Execution.MaxRetriesPerTask,
		MaxConsecutiveFailures: raw.Execution.MaxConsecutiveFailures,
		OneTaskAtATime:         raw.Execution.OneTaskAtATime,
		DesignDir:              raw.Paths.DesignDir,
		StateDir:               raw.Paths.StateDir,
		StrictSchemaValidation: raw.Validation.StrictSchemaValidation,
		JSONSubsetOnly:         raw.Validation.JSONSubsetOnly,
		LogLevel:               raw.Logging.Level,
		LogFile:                raw.Logging.LogFile,
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// check enforces the invariants the schema cannot express alone.
func (c Config) check() error {
	if strings.TrimSpace(c.AgentCommand) == "" {
		return newValidationError("config.agent.command must be non-empty")
	}
	if strings.TrimSpace(c.DesignDir) == "" {
		return newValidationError("config.paths.design_dir must be non-empty")
	}
	if strings.TrimSpace(c.StateDir) == "" {
		return newValidationError("config.paths.state_dir must be non-empty")
	}
	if strings.TrimSpace(c.LogFile) == "" {
		return newValidationError("config.logging.log_file must be non-empty")
	}
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		return newValidationError("config.logging.level must be one of: critical, debug, error, info, warning")
	}
	return nil
}

// ValidationError reports a config schema or invariant violation.
type ValidationError struct {
	msg string
}

func newValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func (e *ValidationError) Error() string { return e.msg }
