// Package logstore persists step output and run results on disk.
package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourceplane/litepipe/internal/model"
)

const resultFile = "result.json"

// ErrRunNotFound is returned when no result exists for a run id
var ErrRunNotFound = errors.New("run not found")

// Store manages log files under a base directory:
//
//	<base>/<run id>/<job>/<NN>-<step>.log
//	<base>/<run id>/result.json
type Store struct {
	BaseDir string
}

// NewStore creates a new log store
func NewStore(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// SaveStepLog writes the captured output of a step and returns its path
func (s *Store) SaveStepLog(runID, job string, index int, step string, output []byte) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	dir := filepath.Join(s.BaseDir, sanitize(runID), sanitize(job))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%02d-%s.log", index+1, sanitize(step)))
	if err := os.WriteFile(path, output, 0o644); err != nil {
		return "", fmt.Errorf("failed to write step log %s: %w", path, err)
	}

	return path, nil
}

// SaveResult writes the run result next to its logs
func (s *Store) SaveResult(result *model.RunResult) (string, error) {
	if result == nil || result.ID == "" {
		return "", fmt.Errorf("run result must have an id")
	}

	dir := filepath.Join(s.BaseDir, sanitize(result.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run result: %w", err)
	}

	path := filepath.Join(dir, resultFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run result: %w", err)
	}
	return path, nil
}

// LoadResult reads a stored run result
func (s *Store) LoadResult(runID string) (*model.RunResult, error) {
	data, err := os.ReadFile(filepath.Join(s.BaseDir, sanitize(runID), resultFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read run result: %w", err)
	}

	var result model.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode run result %s: %w", runID, err)
	}
	return &result, nil
}

// ListRuns returns the ids of all runs with a stored result
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.BaseDir, entry.Name(), resultFile)); err == nil {
			runs = append(runs, entry.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// sanitize keeps names safe for use as path elements
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ', r == '/':
			b.WriteRune('_')
		}
	}

	// ".." never survives, so no element can step out of the base
	clean := strings.Trim(strings.ReplaceAll(b.String(), "..", ""), ".")
	if clean == "" {
		return "step"
	}
	return clean
}
