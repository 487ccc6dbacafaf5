// Package paths resolves repository-relative locations and the .tracescan state directory.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// StateDirName is the per-repository directory for config, logs and history.
const StateDirName = ".tracescan"

// StateDir returns <repoRoot>/.tracescan.
func StateDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName)
}

// LogsDir returns <repoRoot>/.tracescan/logs.
func LogsDir(repoRoot string) string {
	return filepath.Join(StateDir(repoRoot), "logs")
}

// EnsureLogsDir creates the logs directory if needed and returns it.
func EnsureLogsDir(repoRoot string) (string, error) {
	dir := LogsDir(repoRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// LogPath returns the log file for a subsystem, e.g. .tracescan/logs/scan.log.
func LogPath(repoRoot, subsystem string) string {
	return filepath.Join(LogsDir(repoRoot), subsystem+".log")
}

// HistoryPath resolves the configured history database path against repoRoot.
func HistoryPath(repoRoot, configured string) string {
	if configured == "" {
		return filepath.Join(StateDir(repoRoot), "history.db")
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(repoRoot, configured)
}

// CanonicalizePath converts an absolute path to a repo-relative slash path.
// Symlinks are resolved when the target exists.
func CanonicalizePath(absolutePath string, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = absolutePath
	}

	rootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = repoRoot
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRepo checks if a path is within the repository root.
func IsWithinRepo(path string, repoRoot string) bool {
	canonical, err := CanonicalizePath(path, repoRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// NormalizePath converts a relative path to slash form without leading "./".
func NormalizePath(path string) string {
	p := filepath.ToSlash(filepath.Clean(path))
	return strings.TrimPrefix(p, "./")
}

// JoinRepoPath joins a repo root with a canonical slash path.
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	parts := strings.Split(strings.ReplaceAll(canonicalPath, "\\", "/"), "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}
