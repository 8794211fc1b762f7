package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/sourceplane/litepipe/internal/logstore"
	"github.com/sourceplane/litepipe/internal/model"
	"github.com/sourceplane/litepipe/internal/tracing"
	"github.com/sourceplane/litepipe/pkg/log"
)

const tracerName = "github.com/sourceplane/litepipe/internal/runner"

// jobTimeoutUnit scales timeout-minutes; tests shorten it
var jobTimeoutUnit = time.Minute

// Notifier receives job and run outcomes as they become final
type Notifier interface {
	// JobFinished is called once per job. run carries the run header only.
	JobFinished(ctx context.Context, run *model.RunResult, job model.JobResult) error
	RunFinished(ctx context.Context, run *model.RunResult) error
}

// Runner executes a plan. Jobs run concurrently and independently; the
// steps of a job run in order and stop at the first failure.
type Runner struct {
	WorkDir string
	Stdout  io.Writer
	Stderr  io.Writer
	DryRun  bool

	// MaxParallel bounds concurrently running jobs; 0 means unbounded.
	MaxParallel int

	Executor Executor
	Logs     *logstore.Store
	Notifier Notifier
	Tracer   trace.Tracer
	Logger   *slog.Logger

	mu sync.Mutex
}

func NewRunner(workDir string, stdout, stderr io.Writer, dryRun bool) *Runner {
	return &Runner{
		WorkDir:  workDir,
		Stdout:   stdout,
		Stderr:   stderr,
		DryRun:   dryRun,
		Executor: NewShellExecutor(""),
		Logger:   log.WithModule("runner"),
	}
}

// Run executes the plan under a fresh run id
func (r *Runner) Run(ctx context.Context, plan *model.Plan) (*model.RunResult, error) {
	return r.RunWithID(ctx, uuid.NewString(), plan)
}

// RunWithID executes the plan and returns the outcome of every job. The
// error is reserved for invalid input; job failures live in the result.
func (r *Runner) RunWithID(ctx context.Context, runID string, plan *model.Plan) (*model.RunResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan cannot be nil")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}

	result := &model.RunResult{
		ID:        runID,
		Pipeline:  plan.Metadata.Name,
		Event:     plan.Event,
		DryRun:    r.DryRun,
		StartedAt: time.Now(),
	}
	header := *result
	result.Jobs = make([]model.JobResult, len(plan.Jobs))

	ctx, span := r.tracer().Start(ctx, "run "+plan.Metadata.Name, trace.WithAttributes(
		attribute.String(tracing.RunIDKey, runID),
		attribute.String(tracing.PipelineKey, plan.Metadata.Name),
		attribute.String(tracing.EventKey, string(plan.Event.Kind)),
		attribute.String(tracing.BranchKey, plan.Event.Branch),
		attribute.Int(tracing.JobCountKey, len(plan.Jobs)),
	))
	defer span.End()

	logger := r.logger().With("run_id", runID, "pipeline", plan.Metadata.Name)
	logger.Info("Starting run", "event", plan.Event.String(), "jobs", len(plan.Jobs), "dry_run", r.DryRun)

	var sem *semaphore.Weighted
	if r.MaxParallel > 0 {
		sem = semaphore.NewWeighted(int64(r.MaxParallel))
	}

	var wg sync.WaitGroup
	for i, job := range plan.Jobs {
		wg.Add(1)
		go func(i int, job model.PlanJob) {
			defer wg.Done()

			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					result.Jobs[i] = abandonedJob(job)
					logger.Warn("Job abandoned before start", "job", job.Name, "error", err)
					r.notifyJob(ctx, logger, &header, result.Jobs[i])
					return
				}
				defer sem.Release(1)
			}

			result.Jobs[i] = r.runJob(ctx, logger, runID, plan.Event, job)
			r.notifyJob(ctx, logger, &header, result.Jobs[i])
		}(i, job)
	}
	wg.Wait()

	result.FinishedAt = time.Now()
	result.Status = aggregateStatus(result.Jobs)

	span.SetAttributes(attribute.String(tracing.StatusKey, string(result.Status)))
	if result.Status != model.StatusSuccess {
		span.SetStatus(codes.Error, string(result.Status))
	}

	if r.Logs != nil {
		if _, err := r.Logs.SaveResult(result); err != nil {
			logger.Error("Failed to save run result", "error", err)
		}
	}

	if r.Notifier != nil {
		if err := r.Notifier.RunFinished(context.WithoutCancel(ctx), result); err != nil {
			logger.Error("Failed to publish run result", "error", err)
		}
	}

	logger.Info("Run finished", "status", result.Status, "duration", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

func (r *Runner) runJob(ctx context.Context, logger *slog.Logger, runID string, event model.Event, job model.PlanJob) model.JobResult {
	ctx, span := r.tracer().Start(ctx, "job "+job.Name, trace.WithAttributes(
		attribute.String(tracing.JobKey, job.Name),
		attribute.String(tracing.RunsOnKey, job.RunsOn),
	))
	defer span.End()

	logger = logger.With("job", job.Name)
	logger.Debug("Starting job", "steps", len(job.Steps))

	jobResult := model.JobResult{
		Name:      job.Name,
		Status:    model.StatusSuccess,
		StartedAt: time.Now(),
		Steps:     make([]model.StepResult, 0, len(job.Steps)),
	}

	jobCtx := ctx
	if job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*jobTimeoutUnit)
		defer cancel()
	}

	for i, step := range job.Steps {
		if jobResult.Status != model.StatusSuccess {
			jobResult.Steps = append(jobResult.Steps, model.StepResult{
				Name:    step.Name,
				Command: step.Command,
				Status:  model.StatusSkipped,
			})
			continue
		}

		stepResult := r.runStep(jobCtx, runID, event, job, i, step)

		// the parent is still alive, so the job deadline fired
		if stepResult.Status == model.StatusCancelled && ctx.Err() == nil {
			stepResult.Status = model.StatusFailure
			stepResult.Error = fmt.Sprintf("job timed out after %d minutes", job.TimeoutMinutes)
		}

		jobResult.Steps = append(jobResult.Steps, stepResult)
		if stepResult.Status != model.StatusSuccess {
			jobResult.Status = stepResult.Status
			r.writeLine(r.Stderr, job.Name, fmt.Sprintf("✗ %s: %s", step.Name, describeFailure(stepResult)))
		}
	}

	jobResult.FinishedAt = time.Now()
	span.SetAttributes(attribute.String(tracing.StatusKey, string(jobResult.Status)))
	if jobResult.Status != model.StatusSuccess {
		span.SetStatus(codes.Error, string(jobResult.Status))
	}

	duration := jobResult.FinishedAt.Sub(jobResult.StartedAt)
	if failed := jobResult.FailedStep(); failed != nil {
		logger.Warn("Job did not succeed", "status", jobResult.Status, "step", failed.Name, "exit_code", failed.ExitCode, "error", failed.Error, "duration", duration)
	} else {
		logger.Info("Job finished", "status", jobResult.Status, "duration", duration)
	}
	return jobResult
}

func (r *Runner) runStep(ctx context.Context, runID string, event model.Event, job model.PlanJob, index int, step model.PlanStep) model.StepResult {
	ctx, span := r.tracer().Start(ctx, "step "+step.Name, trace.WithAttributes(
		attribute.String(tracing.JobKey, job.Name),
		attribute.Int(tracing.StepIndexKey, index),
		attribute.String(tracing.StepKindKey, string(step.Kind)),
	))
	defer span.End()

	stepResult := model.StepResult{
		Name:      step.Name,
		Command:   step.Command,
		StartedAt: time.Now(),
	}

	if r.DryRun {
		stepResult.Status = model.StatusSuccess
		r.writeBlock(job.Name, step.Name, []byte(step.Command))
		return stepResult
	}

	if err := ctx.Err(); err != nil {
		stepResult.Status = model.StatusCancelled
		stepResult.ExitCode = -1
		stepResult.Error = err.Error()
		return stepResult
	}

	execResult, err := r.executor().Execute(ctx, Command{
		Script: step.Command,
		Dir:    r.resolveWorkingDir(step.WorkingDirectory),
		Env:    stepEnv(runID, event, job, step),
	})
	stepResult.Duration = time.Since(stepResult.StartedAt)

	var output []byte
	if execResult != nil {
		output = execResult.Output
	}

	switch {
	case err != nil && ctx.Err() != nil:
		stepResult.Status = model.StatusCancelled
		stepResult.ExitCode = -1
		stepResult.Error = err.Error()
	case err != nil:
		stepResult.Status = model.StatusFailure
		stepResult.ExitCode = -1
		stepResult.Error = err.Error()
	case execResult.ExitCode != 0:
		stepResult.Status = model.StatusFailure
		stepResult.ExitCode = execResult.ExitCode
	default:
		stepResult.Status = model.StatusSuccess
	}

	if r.Logs != nil {
		path, saveErr := r.Logs.SaveStepLog(runID, job.Name, index, step.Name, output)
		if saveErr != nil {
			r.logger().Error("Failed to save step log", "run_id", runID, "job", job.Name, "step", step.Name, "error", saveErr)
		}
		stepResult.LogPath = path
	}

	span.SetAttributes(attribute.Int(tracing.ExitCodeKey, stepResult.ExitCode))
	if stepResult.Status != model.StatusSuccess {
		span.SetStatus(codes.Error, describeFailure(stepResult))
	}

	r.writeBlock(job.Name, step.Name, output)
	return stepResult
}

func (r *Runner) notifyJob(ctx context.Context, logger *slog.Logger, header *model.RunResult, job model.JobResult) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.JobFinished(context.WithoutCancel(ctx), header, job); err != nil {
		logger.Error("Failed to publish job result", "job", job.Name, "error", err)
	}
}

// writeBlock writes a step's output as one uninterrupted block
func (r *Runner) writeBlock(job, step string, output []byte) {
	if r.Stdout == nil {
		return
	}

	prefix := "[" + job + "] "
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s→ %s\n", prefix, step)
	for _, line := range strings.Split(strings.TrimRight(string(output), "\n"), "\n") {
		if line == "" {
			continue
		}
		buf.WriteString(prefix)
		buf.WriteString("  ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.Stdout.Write(buf.Bytes())
}

func (r *Runner) writeLine(w io.Writer, job, line string) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(w, "[%s] %s\n", job, line)
}

func (r *Runner) resolveWorkingDir(path string) string {
	if path == "" || path == "./" {
		return r.WorkDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.WorkDir, path)
}

func (r *Runner) executor() Executor {
	if r.Executor == nil {
		return NewShellExecutor("")
	}
	return r.Executor
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return r.Tracer
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return log.WithModule("runner")
	}
	return r.Logger
}

// stepEnv layers job env, step env and the run context into KEY=VALUE pairs
func stepEnv(runID string, event model.Event, job model.PlanJob, step model.PlanStep) []string {
	env := make(map[string]string, len(job.Env)+len(step.Env)+5)
	for k, v := range job.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		env[k] = v
	}
	env["CI"] = "true"
	env["LITEPIPE_RUN_ID"] = runID
	env["LITEPIPE_JOB"] = job.Name
	env["LITEPIPE_EVENT_NAME"] = string(event.Kind)
	env["LITEPIPE_BRANCH"] = event.Branch

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

// abandonedJob records a job that never got a slot before the run was aborted
func abandonedJob(job model.PlanJob) model.JobResult {
	now := time.Now()
	jobResult := model.JobResult{
		Name:       job.Name,
		Status:     model.StatusCancelled,
		StartedAt:  now,
		FinishedAt: now,
		Steps:      make([]model.StepResult, 0, len(job.Steps)),
	}
	for _, step := range job.Steps {
		jobResult.Steps = append(jobResult.Steps, model.StepResult{
			Name:    step.Name,
			Command: step.Command,
			Status:  model.StatusSkipped,
		})
	}
	return jobResult
}

// aggregateStatus: any failure fails the run, then any cancellation
func aggregateStatus(jobs []model.JobResult) model.Status {
	status := model.StatusSuccess
	for _, job := range jobs {
		switch job.Status {
		case model.StatusFailure:
			return model.StatusFailure
		case model.StatusCancelled:
			status = model.StatusCancelled
		}
	}
	return status
}

func describeFailure(step model.StepResult) string {
	if step.Error != "" {
		return step.Error
	}
	return fmt.Sprintf("exit code %d", step.ExitCode)
}
