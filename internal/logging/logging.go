// Package logging provides the shepherd's file-backed logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metalagman/shepherd/internal/state"
)

var levels = map[string]zerolog.Level{
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"critical": zerolog.FatalLevel,
}

// Open creates a logger writing to the configured log file only. The logger
// is never attached to a default sink; the daemon is unattended. A relative
// log file is anchored at the project root, and its parent directory must
// already exist.
func Open(level, logFile, projectRoot string) (zerolog.Logger, error) {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		return zerolog.Nop(), fmt.Errorf("unknown log level %q", level)
	}
	if !filepath.IsAbs(logFile) {
		logFile = filepath.Join(projectRoot, logFile)
	}
	parent := filepath.Dir(logFile)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return zerolog.Nop(), &state.MissingStateError{Path: parent}
	}
	sink, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("open log file: %w", err)
	}
	return zerolog.New(sink).Level(lvl).With().Timestamp().Logger(), nil
}
