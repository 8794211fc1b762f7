// Package trigger decides which jobs of a pipeline an event selects.
package trigger

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourceplane/litepipe/internal/model"
)

// SelectJobs returns the sorted names of the jobs the event selects. All
// jobs of a descriptor share its triggers, so the result is either every
// job or none.
func SelectJobs(descriptor *model.Descriptor, event model.Event) []string {
	if descriptor == nil {
		return []string{}
	}
	filter, declared := descriptor.On[event.Kind]
	if !declared || !Matches(filter, event) {
		return []string{}
	}
	return descriptor.JobNames()
}

// Matches reports whether an event passes a trigger filter
func Matches(filter model.TriggerFilter, event model.Event) bool {
	if len(filter.Branches) > 0 && !MatchBranch(filter.Branches, event.Branch) {
		return false
	}
	if len(filter.BranchesIgnore) > 0 && MatchBranch(filter.BranchesIgnore, event.Branch) {
		return false
	}
	if len(filter.Paths) > 0 && event.ChangedFiles != nil && !matchAnyPath(filter.Paths, event.ChangedFiles) {
		return false
	}
	return true
}

// MatchBranch evaluates patterns in order; the last pattern matching the
// branch decides, and a leading "!" turns a match into an exclusion.
func MatchBranch(patterns []string, branch string) bool {
	matched := false
	for _, pattern := range patterns {
		negated := strings.HasPrefix(pattern, "!")
		if negated {
			pattern = pattern[1:]
		}
		if !matchPattern(pattern, branch) {
			continue
		}
		matched = !negated
	}
	return matched
}

func matchAnyPath(patterns, files []string) bool {
	for _, file := range files {
		if MatchBranch(patterns, file) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		// malformed pattern: fall back to a literal comparison
		return pattern == name
	}
	return ok
}
