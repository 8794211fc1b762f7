package git

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ChangeDetector detects files that have changed in git
type ChangeDetector struct {
	dir        string
	baseBranch string // branch to compare against (e.g., "main", "develop")

	run func(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// NewChangeDetector creates a change detector for the repository in dir
func NewChangeDetector(dir, baseBranch string) *ChangeDetector {
	return &ChangeDetector{
		dir:        dir,
		baseBranch: baseBranch,
		run:        runGit,
	}
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

// CurrentBranch returns the checked out branch name
func (cd *ChangeDetector) CurrentBranch(ctx context.Context) (string, error) {
	output, err := cd.run(ctx, cd.dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to determine current branch: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "" || branch == "HEAD" {
		return "", fmt.Errorf("repository is in detached HEAD state")
	}
	return branch, nil
}

// GetChangedFiles returns files that differ from the base branch, combined
// with staged and unstaged modifications. The result is sorted.
func (cd *ChangeDetector) GetChangedFiles(ctx context.Context) ([]string, error) {
	filesMap := make(map[string]bool)
	collect := func(output []byte) {
		for _, f := range strings.Split(strings.TrimSpace(string(output)), "\n") {
			if f != "" {
				filesMap[f] = true
			}
		}
	}

	// Unstaged then staged
	if output, err := cd.run(ctx, cd.dir, "diff", "--name-only"); err == nil {
		collect(output)
	}
	if output, err := cd.run(ctx, cd.dir, "diff", "--cached", "--name-only"); err == nil {
		collect(output)
	}

	compareRef := cd.baseBranch
	if compareRef == "" {
		compareRef = "main"
	}

	// Local base branch first, then origin/ (common in CI)
	output, err := cd.run(ctx, cd.dir, "diff", "--name-only", compareRef)
	if err != nil || len(output) == 0 {
		output, err = cd.run(ctx, cd.dir, "diff", "--name-only", "origin/"+compareRef)
	}

	// merge-base as last resort (works in detached HEAD state)
	if err != nil || len(output) == 0 {
		if baseSha, mergeErr := cd.mergeBase(ctx, compareRef); mergeErr == nil {
			output, err = cd.run(ctx, cd.dir, "diff", "--name-only", baseSha)
		}
	}

	if err == nil {
		collect(output)
	}

	result := make([]string, 0, len(filesMap))
	for f := range filesMap {
		result = append(result, f)
	}
	sort.Strings(result)
	return result, nil
}

func (cd *ChangeDetector) mergeBase(ctx context.Context, ref string) (string, error) {
	attempts := [][]string{
		{"merge-base", "--fork-point", ref},
		{"merge-base", "HEAD", ref},
		{"merge-base", "HEAD", "origin/" + ref},
	}

	var lastErr error
	for _, args := range attempts {
		output, err := cd.run(ctx, cd.dir, args...)
		if err == nil && len(strings.TrimSpace(string(output))) > 0 {
			return strings.TrimSpace(string(output)), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no merge base with %s", ref)
	}
	return "", lastErr
}
