package model

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is a pipeline definition: triggers plus independent jobs
type Descriptor struct {
	Name string            `yaml:"name" json:"name"`
	On   Triggers          `yaml:"on" json:"on"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Jobs map[string]Job    `yaml:"jobs" json:"jobs"`

	// Source is the file the descriptor was loaded from, if any.
	Source string `yaml:"-" json:"-"`
}

// JobNames returns the job names in deterministic order
func (d *Descriptor) JobNames() []string {
	names := make([]string, 0, len(d.Jobs))
	for name := range d.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Triggers maps an event kind to the filter that must match for the
// descriptor's jobs to be selected.
type Triggers map[EventKind]TriggerFilter

// UnmarshalYAML accepts the three shapes of `on:` - a single event name,
// a list of event names, or a mapping of event name to filter.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	out := make(Triggers)

	switch node.Kind {
	case yaml.ScalarNode:
		out[EventKind(node.Value)] = TriggerFilter{}
	case yaml.SequenceNode:
		var kinds []string
		if err := node.Decode(&kinds); err != nil {
			return fmt.Errorf("failed to parse trigger list: %w", err)
		}
		for _, kind := range kinds {
			out[EventKind(kind)] = TriggerFilter{}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			kind := EventKind(node.Content[i].Value)
			value := node.Content[i+1]

			var filter TriggerFilter
			switch {
			case value.Kind == yaml.SequenceNode && kind == EventSchedule:
				if err := value.Decode(&filter.Schedules); err != nil {
					return fmt.Errorf("failed to parse schedule trigger: %w", err)
				}
			case value.Tag == "!!null":
			default:
				if err := value.Decode(&filter); err != nil {
					return fmt.Errorf("failed to parse %s trigger: %w", kind, err)
				}
			}
			out[kind] = filter
		}
	default:
		return fmt.Errorf("unsupported trigger definition at line %d", node.Line)
	}

	*t = out
	return nil
}

// Kinds returns the declared event kinds in deterministic order
func (t Triggers) Kinds() []EventKind {
	kinds := make([]EventKind, 0, len(t))
	for kind := range t {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// TriggerFilter narrows an event kind to branches and paths
type TriggerFilter struct {
	Branches       []string   `yaml:"branches,omitempty" json:"branches,omitempty"`
	BranchesIgnore []string   `yaml:"branches-ignore,omitempty" json:"branchesIgnore,omitempty"`
	Paths          []string   `yaml:"paths,omitempty" json:"paths,omitempty"`
	Schedules      []Schedule `yaml:"schedules,omitempty" json:"schedules,omitempty"`
}

// Schedule is a cron entry of a schedule trigger
type Schedule struct {
	Cron string `yaml:"cron" json:"cron"`
}

// Job is an ordered list of steps with its own success/failure outcome
type Job struct {
	Name           string            `yaml:"name,omitempty" json:"name,omitempty"`
	RunsOn         string            `yaml:"runs-on" json:"runsOn"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutMinutes int               `yaml:"timeout-minutes,omitempty" json:"timeoutMinutes,omitempty"`
	Steps          []Step            `yaml:"steps" json:"steps"`
}

// StepKind tells an action invocation from a shell command
type StepKind string

const (
	StepAction  StepKind = "action"
	StepCommand StepKind = "command"
)

// Step is the smallest unit of work in a job
type Step struct {
	Name             string                 `yaml:"name,omitempty" json:"name,omitempty"`
	ID               string                 `yaml:"id,omitempty" json:"id,omitempty"`
	Uses             string                 `yaml:"uses,omitempty" json:"uses,omitempty"`
	With             map[string]interface{} `yaml:"with,omitempty" json:"with,omitempty"`
	Run              string                 `yaml:"run,omitempty" json:"run,omitempty"`
	Env              map[string]string      `yaml:"env,omitempty" json:"env,omitempty"`
	WorkingDirectory string                 `yaml:"working-directory,omitempty" json:"workingDirectory,omitempty"`
}

// Kind reports whether the step references an action or runs a command
func (s Step) Kind() StepKind {
	if s.Uses != "" {
		return StepAction
	}
	return StepCommand
}

// Inputs flattens the `with:` mapping into strings. Lists are joined with
// commas, the way action inputs such as `components` expect them.
func (s Step) Inputs() map[string]string {
	inputs := make(map[string]string, len(s.With))
	for k, v := range s.With {
		switch value := v.(type) {
		case nil:
			inputs[k] = ""
		case []interface{}:
			parts := make([]string, 0, len(value))
			for _, item := range value {
				parts = append(parts, fmt.Sprint(item))
			}
			inputs[k] = strings.Join(parts, ",")
		default:
			inputs[k] = fmt.Sprint(value)
		}
	}
	return inputs
}

// ActionRef is a parsed `uses:` reference, e.g. actions/checkout@v2
type ActionRef struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// ParseActionRef splits owner/name@version
func ParseActionRef(uses string) (ActionRef, error) {
	name, version, found := strings.Cut(strings.TrimSpace(uses), "@")
	if !found || version == "" {
		return ActionRef{}, fmt.Errorf("action reference %q must pin a version (name@version)", uses)
	}
	if name == "" || !strings.Contains(name, "/") {
		return ActionRef{}, fmt.Errorf("action reference %q must be owner/name@version", uses)
	}
	return ActionRef{Name: name, Version: version}, nil
}

func (r ActionRef) String() string {
	return r.Name + "@" + r.Version
}
