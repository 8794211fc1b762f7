package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sourceplane/litepipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDescriptor(t *testing.T) {
	d, err := LoadDescriptor("testdata/workflows/ci.yaml")
	require.NoError(t, err)

	assert.Equal(t, "CI", d.Name)
	assert.Equal(t, "testdata/workflows/ci.yaml", d.Source)
	assert.Equal(t, []string{"build", "lint"}, d.JobNames())
	assert.Equal(t, []string{"main"}, d.On[model.EventPush].Branches)
	assert.Equal(t, []string{"main"}, d.On[model.EventPullRequest].Branches)

	build := d.Jobs["build"]
	assert.Equal(t, "ubuntu-latest", build.RunsOn)
	require.Len(t, build.Steps, 5)
	assert.Equal(t, "actions/checkout@v2", build.Steps[0].Uses)
	assert.Equal(t, "rustfmt", build.Steps[1].Inputs()["components"])
	assert.Equal(t, "Check formatting", build.Steps[2].Name)
	assert.Equal(t, "cargo fmt -- --check", build.Steps[2].Run)
	assert.Equal(t, "Run tests", build.Steps[4].Name)
}

func TestLoadDescriptor_DuplicateJobNames(t *testing.T) {
	_, err := LoadDescriptor("testdata/duplicate_jobs.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
}

func TestLoadDescriptor_Errors(t *testing.T) {
	_, err := LoadDescriptor("testdata/missing.yaml")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\non: push\n"), 0o644))
	_, err = LoadDescriptor(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no jobs")
}

func TestLoadDescriptor_NameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.yml")
	content := "on: push\njobs:\n  tag:\n    runs-on: local\n    steps:\n      - run: git tag\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "release", d.Name)
}

func TestLoadDescriptorsFromDir(t *testing.T) {
	descriptors, err := LoadDescriptorsFromDir("testdata/workflows")
	require.NoError(t, err)

	require.Len(t, descriptors, 2)
	assert.Contains(t, descriptors, "CI")
	assert.Contains(t, descriptors, "nightly")
	assert.Equal(t, 10, descriptors["nightly"].Jobs["audit"].TimeoutMinutes)
}

func TestLoadDescriptorsFromDir_Glob(t *testing.T) {
	descriptors, err := LoadDescriptorsFromDir("testdata/work*")
	require.NoError(t, err)
	assert.Len(t, descriptors, 2)

	_, err = LoadDescriptorsFromDir("testdata/nothing*")
	assert.Error(t, err)
}

func TestLoadDescriptorsFromDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	content := "name: same\non: push\njobs:\n  a:\n    runs-on: local\n    steps:\n      - run: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(content), 0o644))

	_, err := LoadDescriptorsFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared by both")
}

func TestLoadRawDocument(t *testing.T) {
	doc, err := LoadRawDocument("testdata/workflows/nightly.yml")
	require.NoError(t, err)

	root, ok := doc.(map[string]interface{})
	require.True(t, ok)
	jobs := root["jobs"].(map[string]interface{})
	audit := jobs["audit"].(map[string]interface{})
	assert.Equal(t, float64(10), audit["timeout-minutes"])
}
