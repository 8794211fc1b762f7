package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourceplane/litepipe/internal/model"
)

// StatusMark returns the progress mark shown for a status
func StatusMark(status model.Status) string {
	switch status {
	case model.StatusSuccess:
		return "✓"
	case model.StatusFailure:
		return "✗"
	case model.StatusCancelled:
		return "⊘"
	default:
		return "□"
	}
}

// Report summarizes a run: every job, every step and the overall status
func Report(result *model.RunResult) string {
	var sb strings.Builder

	title := result.Pipeline
	if title == "" {
		title = "pipeline"
	}
	fmt.Fprintf(&sb, "Run %s: %s [%s]", result.ID, title, result.Event)
	if result.DryRun {
		sb.WriteString(" (dry run)")
	}
	sb.WriteString("\n")
	sb.WriteString(rule)

	if len(result.Jobs) == 0 {
		sb.WriteString("No jobs ran\n")
	}

	for _, job := range result.Jobs {
		fmt.Fprintf(&sb, "%s %s (%s)\n", StatusMark(job.Status), job.Name, job.Status)
		for _, step := range job.Steps {
			line := fmt.Sprintf("   %s %s", StatusMark(step.Status), step.Name)
			switch step.Status {
			case model.StatusFailure, model.StatusCancelled:
				if step.Error != "" {
					line += " | " + step.Error
				} else {
					line += fmt.Sprintf(" | exit code %d", step.ExitCode)
				}
			case model.StatusSuccess:
				if step.Duration > 0 {
					line += fmt.Sprintf(" (%s)", step.Duration.Round(time.Millisecond))
				}
			}
			sb.WriteString(line + "\n")
		}
	}

	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Status: %s %s", StatusMark(result.Status), result.Status)
	if counts := countJobs(result.Jobs); counts != "" {
		fmt.Fprintf(&sb, " (%s)", counts)
	}
	sb.WriteString("\n")

	return sb.String()
}

func countJobs(jobs []model.JobResult) string {
	counts := make(map[model.Status]int)
	for _, job := range jobs {
		counts[job.Status]++
	}

	parts := make([]string, 0, len(counts))
	for _, status := range []model.Status{model.StatusSuccess, model.StatusFailure, model.StatusCancelled} {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[status], status))
		}
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
