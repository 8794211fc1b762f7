package render

import (
	"fmt"
	"strings"

	"github.com/sourceplane/litepipe/internal/model"
)

const (
	rule        = "═══════════════════════════════════════════════════════════\n"
	maxCmdWidth = 60
)

// PlanViewer provides human-readable visualization of a plan
type PlanViewer struct {
	plan *model.Plan
}

// NewPlanViewer creates a new plan viewer
func NewPlanViewer(plan *model.Plan) *PlanViewer {
	return &PlanViewer{plan: plan}
}

// ViewTree returns a tree of the selected jobs and their steps
func (pv *PlanViewer) ViewTree() string {
	if len(pv.plan.Jobs) == 0 {
		return fmt.Sprintf("No jobs triggered by %s\n", pv.plan.Event)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]\n", pv.plan.Metadata.Name, pv.plan.Event)

	for i, job := range pv.plan.Jobs {
		isLastJob := i == len(pv.plan.Jobs)-1

		jobPrefix := "├─ "
		connector := "│  "
		if isLastJob {
			jobPrefix = "└─ "
			connector = "   "
		}

		jobLine := jobPrefix + job.Name
		if job.RunsOn != "" {
			jobLine += fmt.Sprintf(" (%s)", job.RunsOn)
		}
		if job.TimeoutMinutes > 0 {
			jobLine += fmt.Sprintf(" [%dm]", job.TimeoutMinutes)
		}
		sb.WriteString(jobLine + "\n")

		for j, step := range job.Steps {
			stepPrefix := connector + "├─ "
			if j == len(job.Steps)-1 {
				stepPrefix = connector + "└─ "
			}
			sb.WriteString(fmt.Sprintf("%s%s | %s\n", stepPrefix, step.Name, truncate(firstLine(step.Command), maxCmdWidth)))
		}
	}

	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Summary: %d jobs, %d steps\n", len(pv.plan.Jobs), countSteps(pv.plan.Jobs))

	return sb.String()
}

// ViewJob shows a single job with full step commands
func (pv *PlanViewer) ViewJob(name string) string {
	job, ok := pv.plan.Job(name)
	if !ok {
		return fmt.Sprintf("No job found: %s\n", name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]\n", job.Name, job.RunsOn)
	sb.WriteString(rule + "\n")

	if len(job.Env) > 0 {
		sb.WriteString("Env:\n")
		for _, key := range sortedKeys(job.Env) {
			fmt.Fprintf(&sb, "  %s=%s\n", key, job.Env[key])
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Steps:\n")
	for i, step := range job.Steps {
		prefix := "├─ "
		connector := "│  "
		if i == len(job.Steps)-1 {
			prefix = "└─ "
			connector = "   "
		}

		sb.WriteString(prefix + step.Name + "\n")
		if step.Uses != "" {
			fmt.Fprintf(&sb, "%sUses: %s\n", connector, step.Uses)
		}
		if step.WorkingDirectory != "" {
			fmt.Fprintf(&sb, "%sDir: %s\n", connector, step.WorkingDirectory)
		}
		for _, line := range strings.Split(step.Command, "\n") {
			fmt.Fprintf(&sb, "%sRun: %s\n", connector, line)
		}
	}

	return sb.String()
}

func countSteps(jobs []model.PlanJob) int {
	n := 0
	for _, job := range jobs {
		n += len(job.Steps)
	}
	return n
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// truncate shortens long commands to width runes
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
