package model

// Plan is the execution-ready set of jobs selected for one event
type Plan struct {
	APIVersion string    `json:"apiVersion" yaml:"apiVersion"`
	Kind       string    `json:"kind" yaml:"kind"`
	Metadata   Metadata  `json:"metadata" yaml:"metadata"`
	Event      Event     `json:"event" yaml:"event"`
	Jobs       []PlanJob `json:"jobs" yaml:"jobs"`
}

// Metadata holds standard object metadata
type Metadata struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// PlanJob is the execution unit in the final plan
type PlanJob struct {
	Name           string            `json:"name" yaml:"name"`
	RunsOn         string            `json:"runsOn" yaml:"runsOn"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	TimeoutMinutes int               `json:"timeoutMinutes,omitempty" yaml:"timeoutMinutes,omitempty"`
	Steps          []PlanStep        `json:"steps" yaml:"steps"`
}

// PlanStep is a step with its command fully resolved
type PlanStep struct {
	Name             string            `json:"name" yaml:"name"`
	ID               string            `json:"id,omitempty" yaml:"id,omitempty"`
	Kind             StepKind          `json:"kind" yaml:"kind"`
	Uses             string            `json:"uses,omitempty" yaml:"uses,omitempty"`
	Command          string            `json:"command" yaml:"command"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`
}

// Job looks up a plan job by name
func (p *Plan) Job(name string) (*PlanJob, bool) {
	for i := range p.Jobs {
		if p.Jobs[i].Name == name {
			return &p.Jobs[i], true
		}
	}
	return nil, false
}

// JobNames returns the job names in plan order
func (p *Plan) JobNames() []string {
	names := make([]string, 0, len(p.Jobs))
	for _, job := range p.Jobs {
		names = append(names, job.Name)
	}
	return names
}
