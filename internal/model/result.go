package model

import "time"

// Status is the outcome of a run, job or step
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// StepResult records what happened to a single step
type StepResult struct {
	Name      string        `json:"name" yaml:"name"`
	Command   string        `json:"command" yaml:"command"`
	Status    Status        `json:"status" yaml:"status"`
	ExitCode  int           `json:"exitCode" yaml:"exitCode"`
	StartedAt time.Time     `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	LogPath   string        `json:"logPath,omitempty" yaml:"logPath,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// JobResult records a job's final status and its steps
type JobResult struct {
	Name       string       `json:"name" yaml:"name"`
	Status     Status       `json:"status" yaml:"status"`
	StartedAt  time.Time    `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt" yaml:"finishedAt"`
	Steps      []StepResult `json:"steps" yaml:"steps"`
}

// FailedStep returns the step that ended the job, if any
func (j *JobResult) FailedStep() *StepResult {
	for i := range j.Steps {
		if j.Steps[i].Status == StatusFailure || j.Steps[i].Status == StatusCancelled {
			return &j.Steps[i]
		}
	}
	return nil
}

// RunResult aggregates the independent job outcomes of one run
type RunResult struct {
	ID         string      `json:"id" yaml:"id"`
	Pipeline   string      `json:"pipeline" yaml:"pipeline"`
	Event      Event       `json:"event" yaml:"event"`
	Status     Status      `json:"status" yaml:"status"`
	DryRun     bool        `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
	StartedAt  time.Time   `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt" yaml:"finishedAt"`
	Jobs       []JobResult `json:"jobs" yaml:"jobs"`
}

// Job looks up a job result by name
func (r *RunResult) Job(name string) (*JobResult, bool) {
	for i := range r.Jobs {
		if r.Jobs[i].Name == name {
			return &r.Jobs[i], true
		}
	}
	return nil, false
}

// Failed reports whether any job did not succeed
func (r *RunResult) Failed() bool {
	return r.Status != StatusSuccess
}
