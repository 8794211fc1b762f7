package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"

	"github.com/sourceplane/litepipe/internal/logstore"
	"github.com/sourceplane/litepipe/internal/model"
	"github.com/sourceplane/litepipe/internal/notify"
	"github.com/sourceplane/litepipe/internal/planner"
	"github.com/sourceplane/litepipe/internal/render"
	"github.com/sourceplane/litepipe/internal/runner"
	"github.com/sourceplane/litepipe/internal/tracing"
	"github.com/sourceplane/litepipe/pkg/log"
)

var (
	runEvent       eventFlags
	runPlanFile    string
	runExecute     bool
	runWorkDir     string
	runMaxParallel int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the jobs an event triggers",
	Long:  "Run a plan file, or plan the selected workflow for the event and run it. Commands are printed unless --execute is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

func registerRunCommand(root *cobra.Command) {
	root.AddCommand(runCmd)

	addEventFlags(runCmd, &runEvent)
	runCmd.Flags().StringVarP(&runPlanFile, "plan", "p", "", "Plan file generated by 'litepipe plan -o'")
	runCmd.Flags().BoolVarP(&runExecute, "execute", "x", false, "Execute commands (default is dry-run)")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Working directory for steps (default: config workDir)")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", -1, "Maximum concurrent jobs, 0 for unbounded (default: config maxParallel)")
}

func runPipeline(ctx context.Context) error {
	plan, err := loadRunPlan(ctx)
	if err != nil {
		return err
	}

	if len(plan.Jobs) == 0 {
		fmt.Printf("No jobs triggered by %s\n", plan.Event)
		return nil
	}

	workDir := cfg.WorkDir
	if runWorkDir != "" {
		workDir = runWorkDir
	}

	r, cleanup, err := newRunner(ctx, workDir, !runExecute)
	if err != nil {
		return err
	}
	defer cleanup()

	if runMaxParallel >= 0 {
		r.MaxParallel = runMaxParallel
	}

	mode := "dry-run"
	if runExecute {
		mode = "execute"
	}
	fmt.Printf("□ Running %d jobs of %s for %s (%s)\n\n", len(plan.Jobs), plan.Metadata.Name, plan.Event, mode)

	result, err := r.Run(ctx, plan)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Print(render.Report(result))

	if r.Logs != nil {
		fmt.Printf("✓ Logs saved to: %s\n", r.Logs.BaseDir)
	}

	if result.Failed() {
		return fmt.Errorf("run %s finished with status %s", result.ID, result.Status)
	}
	return nil
}

// loadRunPlan reads --plan or plans the selected workflow for the event
func loadRunPlan(ctx context.Context) (*model.Plan, error) {
	if runPlanFile != "" {
		plan, err := render.NewRenderer().ReadPlan(runPlanFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}
		return plan, nil
	}

	pipelines, err := loadPipelines()
	if err != nil {
		return nil, err
	}
	descriptor, err := selectPipeline(pipelines)
	if err != nil {
		return nil, err
	}

	event, err := resolveEvent(ctx, runEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve event: %w", err)
	}

	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}
	return planner.NewPlanner(registry).Plan(descriptor, event)
}

// newRunner builds a runner from the loaded config: shell, log store,
// notifications and tracing. The returned cleanup flushes and closes them.
func newRunner(ctx context.Context, workDir string, dryRun bool) (*runner.Runner, func(), error) {
	logger := log.WithModule("runner")

	r := runner.NewRunner(workDir, os.Stdout, os.Stderr, dryRun)
	r.Executor = runner.NewShellExecutor(cfg.Shell)
	r.MaxParallel = cfg.MaxParallel
	r.Logger = logger

	if cfg.LogDir != "" {
		r.Logs = logstore.NewStore(cfg.LogDir)
	}

	var closers []func()

	if len(cfg.Events.KafkaBrokers) > 0 {
		publisher, _, err := notify.New(notify.Config{
			Topic:        cfg.Events.Topic,
			KafkaBrokers: cfg.Events.KafkaBrokers,
		}, log.WithModule("notify"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create notification publisher: %w", err)
		}
		r.Notifier = publisher
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close notification publisher", "error", err)
			}
		})
	}

	tracer, shutdown, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	r.Tracer = tracer
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	})

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return r, cleanup, nil
}

// logNotifications logs every in-process notification at debug level
func logNotifications(ctx context.Context, sub message.Subscriber, topic string, logger *slog.Logger) error {
	return notify.Listen(ctx, sub, topic, func(_ context.Context, job *notify.JobFinished, run *notify.RunFinished) error {
		switch {
		case job != nil:
			logger.Debug("Job finished", "run", job.RunID, "job", job.Job.Name, "status", job.Job.Status)
		case run != nil:
			logger.Info("Run finished", "run", run.Run.ID, "pipeline", run.Run.Pipeline, "status", run.Run.Status)
		}
		return nil
	})
}
