package runner

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourceplane/litepipe/internal/logstore"
	"github.com/sourceplane/litepipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeExecutor struct {
	mu         sync.Mutex
	exitCodes  map[string]int
	block      map[string]bool
	delay      time.Duration
	started    chan string
	calls      []Command
	running    int
	maxRunning int
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd Command) (*ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.block[cmd.Script] {
		if f.started != nil {
			f.started <- cmd.Script
		}
		<-ctx.Done()
		return &ExecResult{ExitCode: -1}, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &ExecResult{ExitCode: f.exitCodes[cmd.Script], Output: []byte("ran " + cmd.Script + "\n")}, nil
}

// scripts returns the executed scripts of one job in call order
func (f *fakeExecutor) scripts(job string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var scripts []string
	for _, call := range f.calls {
		for _, kv := range call.Env {
			if kv == "LITEPIPE_JOB="+job {
				scripts = append(scripts, call.Script)
			}
		}
	}
	return scripts
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []string
	runs []*model.RunResult
}

func (n *recordingNotifier) JobFinished(_ context.Context, run *model.RunResult, job model.JobResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, run.ID+"/"+job.Name+"="+string(job.Status))
	return nil
}

func (n *recordingNotifier) RunFinished(_ context.Context, run *model.RunResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
	return nil
}

func ciPlan() *model.Plan {
	return &model.Plan{
		Metadata: model.Metadata{Name: "CI"},
		Event:    model.Event{Kind: model.EventPush, Branch: "main"},
		Jobs: []model.PlanJob{
			{
				Name:   "build",
				RunsOn: "ubuntu-latest",
				Steps: []model.PlanStep{
					{Name: "checkout", Kind: model.StepAction, Command: "git rev-parse --is-inside-work-tree >/dev/null"},
					{Name: "Check formatting", Kind: model.StepCommand, Command: "cargo fmt -- --check"},
					{Name: "Build", Kind: model.StepCommand, Command: "cargo build --verbose"},
					{Name: "Run tests", Kind: model.StepCommand, Command: "cargo test --verbose"},
				},
			},
			{
				Name:   "lint",
				RunsOn: "ubuntu-latest",
				Steps: []model.PlanStep{
					{Name: "checkout", Kind: model.StepAction, Command: "git rev-parse --is-inside-work-tree >/dev/null"},
					{Name: "clippy", Kind: model.StepAction, Command: "cargo clippy -- -D warnings"},
				},
			},
		},
	}
}

func newTestRunner(exec Executor, stdout io.Writer) *Runner {
	r := NewRunner("", stdout, io.Discard, false)
	r.Executor = exec
	return r
}

func stepStatuses(job *model.JobResult) []model.Status {
	statuses := make([]model.Status, 0, len(job.Steps))
	for _, step := range job.Steps {
		statuses = append(statuses, step.Status)
	}
	return statuses
}

func TestRunner_FailingStepSkipsRestOfJob(t *testing.T) {
	exec := &fakeExecutor{exitCodes: map[string]int{"cargo fmt -- --check": 1}}
	notifier := &recordingNotifier{}
	r := newTestRunner(exec, io.Discard)
	r.Notifier = notifier

	result, err := r.Run(context.Background(), ciPlan())
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailure, result.Status)
	assert.True(t, result.Failed())
	assert.NotEmpty(t, result.ID)

	build, ok := result.Job("build")
	require.True(t, ok)
	assert.Equal(t, model.StatusFailure, build.Status)
	assert.Equal(t, []model.Status{
		model.StatusSuccess, model.StatusFailure, model.StatusSkipped, model.StatusSkipped,
	}, stepStatuses(build))
	assert.Equal(t, 1, build.Steps[1].ExitCode)
	assert.Equal(t, "Check formatting", build.FailedStep().Name)
	assert.Equal(t, []string{
		"git rev-parse --is-inside-work-tree >/dev/null",
		"cargo fmt -- --check",
	}, exec.scripts("build"))

	lint, ok := result.Job("lint")
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, lint.Status)
	assert.Equal(t, []model.Status{model.StatusSuccess, model.StatusSuccess}, stepStatuses(lint))
	assert.Nil(t, lint.FailedStep())

	assert.ElementsMatch(t, []string{
		result.ID + "/build=failure",
		result.ID + "/lint=success",
	}, notifier.jobs)
	require.Len(t, notifier.runs, 1)
	assert.Equal(t, model.StatusFailure, notifier.runs[0].Status)
}

func TestRunner_JobsAreIndependent(t *testing.T) {
	exec := &fakeExecutor{exitCodes: map[string]int{"cargo clippy -- -D warnings": 101}}
	r := newTestRunner(exec, io.Discard)

	result, err := r.Run(context.Background(), ciPlan())
	require.NoError(t, err)

	build, _ := result.Job("build")
	lint, _ := result.Job("lint")
	assert.Equal(t, model.StatusSuccess, build.Status)
	assert.Len(t, exec.scripts("build"), 4)
	assert.Equal(t, model.StatusFailure, lint.Status)
	assert.Equal(t, 101, lint.Steps[1].ExitCode)
	assert.Equal(t, model.StatusFailure, result.Status)
}

func TestRunner_StepsRunInOrder(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(exec, io.Discard)

	result, err := r.Run(context.Background(), ciPlan())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.False(t, result.Failed())

	assert.Equal(t, []string{
		"git rev-parse --is-inside-work-tree >/dev/null",
		"cargo fmt -- --check",
		"cargo build --verbose",
		"cargo test --verbose",
	}, exec.scripts("build"))
	assert.Equal(t, []string{"build", "lint"}, []string{result.Jobs[0].Name, result.Jobs[1].Name})
}

func TestRunner_StepEnvironment(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(exec, io.Discard)

	plan := &model.Plan{
		Event: model.Event{Kind: model.EventPullRequest, Branch: "main"},
		Jobs: []model.PlanJob{{
			Name: "build",
			Env:  map[string]string{"RUST_BACKTRACE": "1", "CARGO_TERM_COLOR": "always"},
			Steps: []model.PlanStep{{
				Name:    "test",
				Command: "cargo test",
				Env:     map[string]string{"RUST_BACKTRACE": "full"},
			}},
		}},
	}

	result, err := r.RunWithID(context.Background(), "run-42", plan)
	require.NoError(t, err)
	assert.Equal(t, "run-42", result.ID)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{
		"CARGO_TERM_COLOR=always",
		"CI=true",
		"LITEPIPE_BRANCH=main",
		"LITEPIPE_EVENT_NAME=pull_request",
		"LITEPIPE_JOB=build",
		"LITEPIPE_RUN_ID=run-42",
		"RUST_BACKTRACE=full",
	}, exec.calls[0].Env)
}

func TestRunner_DryRun(t *testing.T) {
	exec := &fakeExecutor{exitCodes: map[string]int{"cargo fmt -- --check": 1}}
	var stdout bytes.Buffer
	r := newTestRunner(exec, &stdout)
	r.DryRun = true

	result, err := r.Run(context.Background(), ciPlan())
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.Empty(t, exec.calls)

	out := stdout.String()
	assert.Contains(t, out, "[build] → Check formatting\n[build]   cargo fmt -- --check\n")
	assert.Contains(t, out, "[lint]   cargo clippy -- -D warnings\n")
}

func TestRunner_Cancellation(t *testing.T) {
	exec := &fakeExecutor{
		block:   map[string]bool{"sleep 600": true},
		started: make(chan string, 1),
	}
	r := newTestRunner(exec, io.Discard)

	plan := &model.Plan{Jobs: []model.PlanJob{{
		Name: "deploy",
		Steps: []model.PlanStep{
			{Name: "prepare", Command: "echo one"},
			{Name: "wait", Command: "sleep 600"},
			{Name: "finish", Command: "echo three"},
		},
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-exec.started
		cancel()
	}()

	result, err := r.Run(ctx, plan)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCancelled, result.Status)
	deploy := result.Jobs[0]
	assert.Equal(t, model.StatusCancelled, deploy.Status)
	assert.Equal(t, []model.Status{
		model.StatusSuccess, model.StatusCancelled, model.StatusSkipped,
	}, stepStatuses(&deploy))
	assert.Equal(t, []string{"echo one", "sleep 600"}, exec.scripts("deploy"))
}

func TestRunner_JobTimeout(t *testing.T) {
	previous := jobTimeoutUnit
	jobTimeoutUnit = time.Millisecond
	t.Cleanup(func() { jobTimeoutUnit = previous })

	exec := &fakeExecutor{block: map[string]bool{"sleep 600": true}}
	r := newTestRunner(exec, io.Discard)

	plan := &model.Plan{Jobs: []model.PlanJob{
		{
			Name:           "audit",
			TimeoutMinutes: 50,
			Steps: []model.PlanStep{
				{Name: "wait", Command: "sleep 600"},
				{Name: "report", Command: "echo done"},
			},
		},
		{
			Name:  "other",
			Steps: []model.PlanStep{{Name: "ok", Command: "true"}},
		},
	}}

	result, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	audit, _ := result.Job("audit")
	assert.Equal(t, model.StatusFailure, audit.Status)
	assert.Equal(t, []model.Status{model.StatusFailure, model.StatusSkipped}, stepStatuses(audit))
	assert.Contains(t, audit.Steps[0].Error, "timed out after 50 minutes")

	other, _ := result.Job("other")
	assert.Equal(t, model.StatusSuccess, other.Status)
	assert.Equal(t, model.StatusFailure, result.Status)
}

func TestRunner_MaxParallel(t *testing.T) {
	exec := &fakeExecutor{delay: 20 * time.Millisecond}
	r := newTestRunner(exec, io.Discard)
	r.MaxParallel = 1

	plan := &model.Plan{}
	for _, name := range []string{"a", "b", "c"} {
		plan.Jobs = append(plan.Jobs, model.PlanJob{
			Name:  name,
			Steps: []model.PlanStep{{Name: "work", Command: "work " + name}},
		})
	}

	result, err := r.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, 1, exec.maxRunning)
	assert.Len(t, exec.calls, 3)
}

func TestRunner_PersistsLogs(t *testing.T) {
	exec := &fakeExecutor{exitCodes: map[string]int{"cargo fmt -- --check": 1}}
	store := logstore.NewStore(t.TempDir())
	r := newTestRunner(exec, io.Discard)
	r.Logs = store

	result, err := r.RunWithID(context.Background(), "run-7", ciPlan())
	require.NoError(t, err)

	build, _ := result.Job("build")
	require.NotEmpty(t, build.Steps[1].LogPath)
	data, err := os.ReadFile(build.Steps[1].LogPath)
	require.NoError(t, err)
	assert.Equal(t, "ran cargo fmt -- --check\n", string(data))
	assert.Empty(t, build.Steps[2].LogPath)

	stored, err := store.LoadResult("run-7")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailure, stored.Status)
	assert.Len(t, stored.Jobs, 2)
}

func TestRunner_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	exec := &fakeExecutor{exitCodes: map[string]int{"cargo fmt -- --check": 1}}
	r := newTestRunner(exec, io.Discard)
	r.Tracer = provider.Tracer("test")

	_, err := r.Run(context.Background(), ciPlan())
	require.NoError(t, err)

	names := make([]string, 0)
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "run CI")
	assert.Contains(t, names, "job build")
	assert.Contains(t, names, "job lint")
	assert.Contains(t, names, "step Check formatting")
	assert.NotContains(t, names, "step Build")
}

func TestRunner_InvalidInput(t *testing.T) {
	r := newTestRunner(&fakeExecutor{}, io.Discard)

	_, err := r.Run(context.Background(), nil)
	assert.Error(t, err)

	_, err = r.RunWithID(context.Background(), "", &model.Plan{})
	assert.Error(t, err)

	result, err := r.Run(context.Background(), &model.Plan{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.Empty(t, result.Jobs)
}

func TestRunner_ShellExecution(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(workDir, "sub"), 0o755))

	var stdout, stderr bytes.Buffer
	r := NewRunner(workDir, &stdout, &stderr, false)

	plan := &model.Plan{Jobs: []model.PlanJob{{
		Name: "build",
		Env:  map[string]string{"GREETING": "hello"},
		Steps: []model.PlanStep{
			{Name: "greet", Command: `test "$LITEPIPE_JOB" = build && echo "$GREETING"`},
			{Name: "where", Command: "basename \"$(pwd)\"", WorkingDirectory: "sub"},
			{Name: "fail", Command: "echo broken >&2; exit 3"},
			{Name: "never", Command: "echo unreachable"},
		},
	}}}

	result, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	build := result.Jobs[0]
	assert.Equal(t, model.StatusFailure, build.Status)
	assert.Equal(t, []model.Status{
		model.StatusSuccess, model.StatusSuccess, model.StatusFailure, model.StatusSkipped,
	}, stepStatuses(&build))
	assert.Equal(t, 3, build.Steps[2].ExitCode)

	out := stdout.String()
	assert.Contains(t, out, "[build]   hello\n")
	assert.Contains(t, out, "[build]   sub\n")
	assert.Contains(t, out, "[build]   broken\n")
	assert.NotContains(t, out, "unreachable")
	assert.Contains(t, stderr.String(), "[build] ✗ fail: exit code 3")
}

func TestShellExecutor(t *testing.T) {
	e := NewShellExecutor("")
	assert.Equal(t, "sh", e.Shell)

	res, err := e.Execute(context.Background(), Command{Script: "echo out; echo err >&2; exit 4"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Contains(t, string(res.Output), "out\n")
	assert.Contains(t, string(res.Output), "err\n")

	_, err = e.Execute(context.Background(), Command{})
	assert.Error(t, err)

	_, err = e.Execute(context.Background(), Command{Script: "true", Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestShellExecutor_KillsProcessGroup(t *testing.T) {
	e := NewShellExecutor("sh")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := e.Execute(ctx, Command{Script: "sleep 30 & sleep 30; wait"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "execution aborted"))
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestShellExecutor_AbortWithEscapedChild(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not available")
	}
	e := &ShellExecutor{Shell: "sh", WaitDelay: 200 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := e.Execute(ctx, Command{Script: "setsid sleep 5; sleep 10"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution aborted")
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestShellExecutor_BackgroundProcessDoesNotBlock(t *testing.T) {
	e := &ShellExecutor{Shell: "sh", WaitDelay: 200 * time.Millisecond}

	start := time.Now()
	res, err := e.Execute(context.Background(), Command{Script: "sleep 5 & echo started"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Output), "started\n")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunner_LogsFailedStep(t *testing.T) {
	var logs bytes.Buffer
	r := newTestRunner(&fakeExecutor{exitCodes: map[string]int{"cargo fmt -- --check": 1}}, io.Discard)
	r.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	_, err := r.Run(context.Background(), ciPlan())
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, `msg="Job did not succeed"`)
	assert.Contains(t, out, `job=build`)
	assert.Contains(t, out, `step="Check formatting"`)
	assert.Contains(t, out, `exit_code=1`)
	assert.Contains(t, out, `msg="Job finished" run_id=`)
}
