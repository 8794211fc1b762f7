package planner

import (
	"fmt"

	"github.com/sourceplane/litepipe/internal/action"
	"github.com/sourceplane/litepipe/internal/model"
	"github.com/sourceplane/litepipe/internal/trigger"
)

const (
	planAPIVersion = "litepipe.sourceplane.io/v1"
	planKind       = "Plan"
)

// Planner selects the jobs an event triggers and binds every step to a
// concrete command
type Planner struct {
	actions *action.Registry
}

// NewPlanner creates a planner resolving `uses:` steps through the registry
func NewPlanner(actions *action.Registry) *Planner {
	if actions == nil {
		actions = action.NewRegistry()
	}
	return &Planner{actions: actions}
}

// Plan creates the execution plan of a normalized descriptor for an event.
// A plan with no jobs is valid: the event simply selected nothing.
func (p *Planner) Plan(descriptor *model.Descriptor, event model.Event) (*model.Plan, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("descriptor cannot be nil")
	}

	plan := &model.Plan{
		APIVersion: planAPIVersion,
		Kind:       planKind,
		Metadata: model.Metadata{
			Name:   descriptor.Name,
			Source: descriptor.Source,
		},
		Event: event,
		Jobs:  make([]model.PlanJob, 0),
	}

	for _, name := range trigger.SelectJobs(descriptor, event) {
		planJob, err := p.planJob(descriptor, name)
		if err != nil {
			return nil, err
		}
		plan.Jobs = append(plan.Jobs, planJob)
	}

	return plan, nil
}

// PlanAll binds every job regardless of triggers. Used by validation.
func (p *Planner) PlanAll(descriptor *model.Descriptor) (*model.Plan, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("descriptor cannot be nil")
	}

	plan := &model.Plan{
		APIVersion: planAPIVersion,
		Kind:       planKind,
		Metadata:   model.Metadata{Name: descriptor.Name, Source: descriptor.Source},
		Jobs:       make([]model.PlanJob, 0, len(descriptor.Jobs)),
	}
	for _, name := range descriptor.JobNames() {
		planJob, err := p.planJob(descriptor, name)
		if err != nil {
			return nil, err
		}
		plan.Jobs = append(plan.Jobs, planJob)
	}
	return plan, nil
}

func (p *Planner) planJob(descriptor *model.Descriptor, name string) (model.PlanJob, error) {
	job := descriptor.Jobs[name]

	planJob := model.PlanJob{
		Name:           name,
		RunsOn:         job.RunsOn,
		Env:            mergeEnv(descriptor.Env, job.Env),
		TimeoutMinutes: job.TimeoutMinutes,
		Steps:          make([]model.PlanStep, 0, len(job.Steps)),
	}

	for i, step := range job.Steps {
		planStep, err := p.bindStep(step)
		if err != nil {
			return model.PlanJob{}, fmt.Errorf("failed to plan job %s step %d (%s): %w", name, i+1, step.Name, err)
		}
		planJob.Steps = append(planJob.Steps, planStep)
	}

	return planJob, nil
}

func (p *Planner) bindStep(step model.Step) (model.PlanStep, error) {
	planStep := model.PlanStep{
		Name:             step.Name,
		ID:               step.ID,
		Kind:             step.Kind(),
		Env:              mergeEnv(step.Env),
		WorkingDirectory: step.WorkingDirectory,
	}

	switch planStep.Kind {
	case model.StepAction:
		command, err := p.actions.Command(step.Uses, step.Inputs())
		if err != nil {
			return model.PlanStep{}, err
		}
		planStep.Uses = step.Uses
		planStep.Command = command
	default:
		planStep.Command = step.Run
	}

	return planStep, nil
}

// mergeEnv layers env maps; later maps win
func mergeEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
