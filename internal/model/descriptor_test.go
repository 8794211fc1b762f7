package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTriggers_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Triggers
	}{
		{
			name:  "single event",
			input: "on: push",
			want:  Triggers{EventPush: {}},
		},
		{
			name:  "event list",
			input: "on: [push, pull_request]",
			want:  Triggers{EventPush: {}, EventPullRequest: {}},
		},
		{
			name: "mapping with filters",
			input: `
on:
  push:
    branches: [main]
  pull_request:
    branches: [main, "release/**"]
    paths: ["src/**"]
`,
			want: Triggers{
				EventPush:        {Branches: []string{"main"}},
				EventPullRequest: {Branches: []string{"main", "release/**"}, Paths: []string{"src/**"}},
			},
		},
		{
			name: "mapping with empty event",
			input: `
on:
  push:
  workflow_dispatch:
`,
			want: Triggers{EventPush: {}, EventWorkflowDispatch: {}},
		},
		{
			name: "schedule list",
			input: `
on:
  schedule:
    - cron: "0 3 * * *"
`,
			want: Triggers{EventSchedule: {Schedules: []Schedule{{Cron: "0 3 * * *"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				On Triggers `yaml:"on"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.input), &doc))
			assert.Equal(t, tt.want, doc.On)
		})
	}
}

func TestParseActionRef(t *testing.T) {
	ref, err := ParseActionRef("actions-rs/toolchain@v1")
	require.NoError(t, err)
	assert.Equal(t, ActionRef{Name: "actions-rs/toolchain", Version: "v1"}, ref)
	assert.Equal(t, "actions-rs/toolchain@v1", ref.String())

	for _, bad := range []string{"actions/checkout", "checkout@v2", "actions/checkout@", "@v1"} {
		_, err := ParseActionRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestStep_Inputs(t *testing.T) {
	step := Step{
		Uses: "actions-rs/toolchain@v1",
		With: map[string]interface{}{
			"toolchain":  "stable",
			"override":   true,
			"components": []interface{}{"rustfmt", "clippy"},
			"empty":      nil,
		},
	}

	assert.Equal(t, StepAction, step.Kind())
	assert.Equal(t, map[string]string{
		"toolchain":  "stable",
		"override":   "true",
		"components": "rustfmt,clippy",
		"empty":      "",
	}, step.Inputs())

	assert.Equal(t, StepCommand, Step{Run: "make"}.Kind())
}

func TestDescriptor_JobNames(t *testing.T) {
	d := &Descriptor{Jobs: map[string]Job{"lint": {}, "build": {}, "docs": {}}}
	assert.Equal(t, []string{"build", "docs", "lint"}, d.JobNames())
}

func TestEvent(t *testing.T) {
	kind, err := ParseEventKind("pull_request")
	require.NoError(t, err)
	assert.Equal(t, EventPullRequest, kind)

	_, err = ParseEventKind("release")
	assert.Error(t, err)

	assert.Equal(t, "main", BranchFromRef("refs/heads/main"))
	assert.Equal(t, "feature/x", BranchFromRef("refs/heads/feature/x"))
	assert.Equal(t, "push@main", Event{Kind: EventPush, Branch: "main"}.String())
}
