package model

import (
	"fmt"
	"strings"
)

// EventKind is the kind of event that may trigger a pipeline
type EventKind string

const (
	EventPush             EventKind = "push"
	EventPullRequest      EventKind = "pull_request"
	EventSchedule         EventKind = "schedule"
	EventWorkflowDispatch EventKind = "workflow_dispatch"
)

// ParseEventKind validates an event name given on the command line or by a webhook
func ParseEventKind(s string) (EventKind, error) {
	switch kind := EventKind(strings.TrimSpace(s)); kind {
	case EventPush, EventPullRequest, EventSchedule, EventWorkflowDispatch:
		return kind, nil
	default:
		return "", fmt.Errorf("unsupported event kind: %q", s)
	}
}

// Event is a trigger occurrence. For pull requests Branch is the target
// (base) branch.
type Event struct {
	Kind         EventKind `json:"kind" yaml:"kind"`
	Branch       string    `json:"branch" yaml:"branch"`
	Ref          string    `json:"ref,omitempty" yaml:"ref,omitempty"`
	ChangedFiles []string  `json:"changedFiles,omitempty" yaml:"changedFiles,omitempty"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%s", e.Kind, e.Branch)
}

// BranchFromRef strips the refs/heads/ prefix from a git ref
func BranchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
