package normalize

import (
	"testing"

	"github.com/sourceplane/litepipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() *model.Descriptor {
	return &model.Descriptor{
		Name: "CI",
		On:   model.Triggers{model.EventPush: {Branches: []string{"main"}}},
		Jobs: map[string]model.Job{
			"build": {
				RunsOn: "ubuntu-latest",
				Steps: []model.Step{
					{Uses: "actions/checkout@v2"},
					{Run: "cargo build --verbose\ncargo doc"},
					{Name: "Run tests", Run: "cargo test"},
				},
			},
		},
	}
}

func TestNormalizeDescriptor(t *testing.T) {
	in := validDescriptor()

	out, err := NormalizeDescriptor(in)
	require.NoError(t, err)

	build := out.Jobs["build"]
	assert.Equal(t, "build", build.Name)
	require.Len(t, build.Steps, 3)
	assert.Equal(t, "Run actions/checkout@v2", build.Steps[0].Name)
	assert.Equal(t, "Run cargo build --verbose", build.Steps[1].Name)
	assert.Equal(t, "Run tests", build.Steps[2].Name)
	assert.NotNil(t, build.Steps[0].With)
	assert.NotNil(t, build.Env)
	assert.NotNil(t, out.Env)

	// the input keeps its original shape
	assert.Empty(t, in.Jobs["build"].Name)
	assert.Empty(t, in.Jobs["build"].Steps[0].Name)
}

func TestNormalizeDescriptor_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *model.Descriptor)
		want   string
	}{
		{
			name:   "no jobs",
			mutate: func(d *model.Descriptor) { d.Jobs = nil },
			want:   "declares no jobs",
		},
		{
			name:   "no triggers",
			mutate: func(d *model.Descriptor) { d.On = nil },
			want:   "declares no triggers",
		},
		{
			name: "unknown event kind",
			mutate: func(d *model.Descriptor) {
				d.On["release"] = model.TriggerFilter{}
			},
			want: "unsupported event kind",
		},
		{
			name: "schedule without cron",
			mutate: func(d *model.Descriptor) {
				d.On[model.EventSchedule] = model.TriggerFilter{}
			},
			want: "cron entry",
		},
		{
			name: "invalid cron",
			mutate: func(d *model.Descriptor) {
				d.On[model.EventSchedule] = model.TriggerFilter{Schedules: []model.Schedule{{Cron: "every night"}}}
			},
			want: "invalid cron expression",
		},
		{
			name: "job without steps",
			mutate: func(d *model.Descriptor) {
				d.Jobs["lint"] = model.Job{RunsOn: "local"}
			},
			want: "at least one step",
		},
		{
			name: "uses and run",
			mutate: func(d *model.Descriptor) {
				d.Jobs["lint"] = model.Job{Steps: []model.Step{{Uses: "a/b@v1", Run: "make"}}}
			},
			want: "mutually exclusive",
		},
		{
			name: "empty step",
			mutate: func(d *model.Descriptor) {
				d.Jobs["lint"] = model.Job{Steps: []model.Step{{Name: "noop"}}}
			},
			want: "one of uses or run",
		},
		{
			name: "unpinned action",
			mutate: func(d *model.Descriptor) {
				d.Jobs["lint"] = model.Job{Steps: []model.Step{{Uses: "actions/checkout"}}}
			},
			want: "must pin a version",
		},
		{
			name: "duplicate step ids",
			mutate: func(d *model.Descriptor) {
				d.Jobs["lint"] = model.Job{Steps: []model.Step{{ID: "x", Run: "a"}, {ID: "x", Run: "b"}}}
			},
			want: "duplicate step id",
		},
		{
			name: "negative timeout",
			mutate: func(d *model.Descriptor) {
				d.Jobs["lint"] = model.Job{TimeoutMinutes: -1, Steps: []model.Step{{Run: "a"}}}
			},
			want: "negative timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(d)

			_, err := NormalizeDescriptor(d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NormalizeDescriptor(nil)
	assert.Error(t, err)
}
