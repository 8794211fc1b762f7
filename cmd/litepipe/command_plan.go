package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourceplane/litepipe/internal/planner"
	"github.com/sourceplane/litepipe/internal/render"
)

var (
	planEvent    eventFlags
	outputFile   string
	outputFormat string
	viewPlan     string
	debugMode    bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Select the jobs an event triggers and bind their steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return generatePlan(cmd)
	},
}

func registerPlanCommand(root *cobra.Command) {
	root.AddCommand(planCmd)

	addEventFlags(planCmd, &planEvent)
	planCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output plan file path (json or yaml by extension)")
	planCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format when printing (json/yaml)")
	planCmd.Flags().StringVarP(&viewPlan, "view", "v", "", "View plan (tree/job=NAME)")
	planCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}

func addEventFlags(cmd *cobra.Command, flags *eventFlags) {
	cmd.Flags().StringVarP(&flags.kind, "event", "e", "", "Event kind (push/pull_request/schedule/workflow_dispatch); detected when empty")
	cmd.Flags().StringVarP(&flags.branch, "branch", "b", "", "Branch the event targets (base branch for pull_request)")
	cmd.Flags().BoolVar(&flags.changed, "changed", false, "Fill changed files from git for paths filters")
	cmd.Flags().StringVar(&flags.base, "base", "main", "Base branch for change detection")
}

func generatePlan(cmd *cobra.Command) error {
	fmt.Println("□ Loading workflows...")
	pipelines, err := loadPipelines()
	if err != nil {
		return err
	}

	descriptor, err := selectPipeline(pipelines)
	if err != nil {
		return err
	}

	fmt.Println("□ Resolving event...")
	event, err := resolveEvent(cmd.Context(), planEvent)
	if err != nil {
		return fmt.Errorf("failed to resolve event: %w", err)
	}
	if debugMode {
		fmt.Printf("  Event: %s (source: %s, changed files: %d)\n", event, event.Source, len(event.ChangedFiles))
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}

	fmt.Println("□ Selecting jobs and binding steps...")
	plan, err := planner.NewPlanner(registry).Plan(descriptor, event)
	if err != nil {
		return err
	}

	renderer := render.NewRenderer()
	if debugMode {
		fmt.Println("\n" + renderer.DebugDump(plan))
	}

	if outputFile != "" {
		if err := renderer.WritePlan(plan, outputFile); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Printf("✓ Plan generated with %d jobs\n", len(plan.Jobs))
		fmt.Printf("✓ Saved to: %s\n", outputFile)
	} else if viewPlan == "" {
		data, err := renderer.Render(plan, outputFormat)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Plan generated with %d jobs\n\n", len(plan.Jobs))
		fmt.Println(string(data))
	}

	if viewPlan != "" {
		viewer := render.NewPlanViewer(plan)
		var output string

		switch {
		case strings.HasPrefix(viewPlan, "job="):
			output = viewer.ViewJob(strings.TrimPrefix(viewPlan, "job="))
		default:
			output = viewer.ViewTree()
		}

		fmt.Println("\n" + output)
	}

	return nil
}
