// Package policy enforces the filesystem-scope guard over agent-reported
// changes.
package policy

import (
	"path/filepath"
	"sort"
	"strings"
)

// ViolationError reports a forbidden change set.
type ViolationError struct {
	msg string
}

func (e *ViolationError) Error() string { return e.msg }

// AssertNoForbiddenChanges fails when any reported change lies under the
// design directory, under the state directory, or outside the project root.
// Entries come straight off the wire, so non-string values are violations in
// their own right. Relative entries are anchored at the project root.
func AssertNoForbiddenChanges(filesChanged []any, projectRoot, designDir, stateDir string) error {
	projectRoot = mustAbs(projectRoot)
	designDir = mustAbs(designDir)
	stateDir = mustAbs(stateDir)

	var forbidden []string
	for _, entry := range filesChanged {
		pathStr, ok := entry.(string)
		if !ok {
			return &ViolationError{msg: "files_changed entries must be strings"}
		}
		resolved := resolvePath(projectRoot, pathStr)
		if isWithin(resolved, designDir) || isWithin(resolved, stateDir) {
			forbidden = append(forbidden, pathStr)
		} else if !isWithin(resolved, projectRoot) {
			forbidden = append(forbidden, pathStr)
		}
	}
	if len(forbidden) == 0 {
		return nil
	}
	sort.Strings(forbidden)
	return &ViolationError{msg: "forbidden files modified: " + strings.Join(forbidden, ", ")}
}

// resolvePath anchors relative entries at the project root and canonicalizes.
func resolvePath(projectRoot, pathStr string) string {
	if !filepath.IsAbs(pathStr) {
		pathStr = filepath.Join(projectRoot, pathStr)
	}
	return filepath.Clean(pathStr)
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
