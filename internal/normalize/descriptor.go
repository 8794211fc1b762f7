package normalize

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/sourceplane/litepipe/internal/model"
)

// NormalizeDescriptor transforms a raw descriptor into canonical form.
// The input is not modified.
func NormalizeDescriptor(descriptor *model.Descriptor) (*model.Descriptor, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("descriptor cannot be nil")
	}
	if len(descriptor.Jobs) == 0 {
		return nil, fmt.Errorf("pipeline %s declares no jobs", descriptor.Name)
	}
	if len(descriptor.On) == 0 {
		return nil, fmt.Errorf("pipeline %s declares no triggers", descriptor.Name)
	}

	normalized := &model.Descriptor{
		Name:   descriptor.Name,
		Source: descriptor.Source,
		On:     make(model.Triggers, len(descriptor.On)),
		Env:    copyEnv(descriptor.Env),
		Jobs:   make(map[string]model.Job, len(descriptor.Jobs)),
	}

	for kind, filter := range descriptor.On {
		if _, err := model.ParseEventKind(string(kind)); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", descriptor.Name, err)
		}
		if kind == model.EventSchedule && len(filter.Schedules) == 0 {
			return nil, fmt.Errorf("pipeline %s: schedule trigger needs at least one cron entry", descriptor.Name)
		}
		for _, schedule := range filter.Schedules {
			if _, err := cron.ParseStandard(schedule.Cron); err != nil {
				return nil, fmt.Errorf("pipeline %s: invalid cron expression %q: %w", descriptor.Name, schedule.Cron, err)
			}
		}
		normalized.On[kind] = filter
	}

	for name, job := range descriptor.Jobs {
		normalizedJob, err := normalizeJob(name, job)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", descriptor.Name, err)
		}
		normalized.Jobs[name] = normalizedJob
	}

	return normalized, nil
}

func normalizeJob(name string, job model.Job) (model.Job, error) {
	if len(job.Steps) == 0 {
		return model.Job{}, fmt.Errorf("job %s must have at least one step", name)
	}
	if job.TimeoutMinutes < 0 {
		return model.Job{}, fmt.Errorf("job %s has a negative timeout", name)
	}

	out := model.Job{
		Name:           name,
		RunsOn:         job.RunsOn,
		Env:            copyEnv(job.Env),
		TimeoutMinutes: job.TimeoutMinutes,
		Steps:          make([]model.Step, 0, len(job.Steps)),
	}

	ids := make(map[string]bool)
	for i, step := range job.Steps {
		hasUses := strings.TrimSpace(step.Uses) != ""
		hasRun := strings.TrimSpace(step.Run) != ""

		switch {
		case hasUses && hasRun:
			return model.Job{}, fmt.Errorf("job %s step %d: uses and run are mutually exclusive", name, i+1)
		case !hasUses && !hasRun:
			return model.Job{}, fmt.Errorf("job %s step %d: one of uses or run is required", name, i+1)
		}

		if hasUses {
			ref, err := model.ParseActionRef(step.Uses)
			if err != nil {
				return model.Job{}, fmt.Errorf("job %s step %d: %w", name, i+1, err)
			}
			step.Uses = ref.String()
		}

		if step.ID != "" {
			if ids[step.ID] {
				return model.Job{}, fmt.Errorf("job %s: duplicate step id %s", name, step.ID)
			}
			ids[step.ID] = true
		}

		if step.Name == "" {
			step.Name = defaultStepName(step)
		}
		if step.With == nil {
			step.With = make(map[string]interface{})
		}
		step.Env = copyEnv(step.Env)

		out.Steps = append(out.Steps, step)
	}

	return out, nil
}

// defaultStepName mirrors how CI UIs label unnamed steps
func defaultStepName(step model.Step) string {
	if step.Uses != "" {
		return "Run " + step.Uses
	}
	line, _, _ := strings.Cut(strings.TrimSpace(step.Run), "\n")
	return "Run " + line
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
