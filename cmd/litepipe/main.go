package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/sourceplane/litepipe/internal/action"
	"github.com/sourceplane/litepipe/internal/git"
	"github.com/sourceplane/litepipe/internal/loader"
	"github.com/sourceplane/litepipe/internal/model"
	"github.com/sourceplane/litepipe/internal/normalize"
	"github.com/sourceplane/litepipe/internal/schema"
)

// loadPipelines reads the workflow file or directory, checks every
// descriptor against the schema and normalizes it
func loadPipelines() (map[string]*model.Descriptor, error) {
	var raw map[string]*model.Descriptor
	if workflowFile != "" {
		d, err := loader.LoadDescriptor(workflowFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow: %w", err)
		}
		raw = map[string]*model.Descriptor{d.Name: d}
	} else {
		loaded, err := loader.LoadDescriptorsFromDir(workflowsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflows from %s: %w", workflowsDir, err)
		}
		if len(loaded) == 0 {
			return nil, fmt.Errorf("no workflows found in %s", workflowsDir)
		}
		raw = loaded
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}

	pipelines := make(map[string]*model.Descriptor, len(raw))
	for _, name := range sortedNames(raw) {
		d := raw[name]

		doc, err := loader.LoadRawDocument(d.Source)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateDescriptor(doc); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Source, err)
		}

		normalized, err := normalize.NormalizeDescriptor(d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Source, err)
		}
		pipelines[name] = normalized
	}

	return pipelines, nil
}

// selectPipeline picks --pipeline, or the only pipeline loaded
func selectPipeline(pipelines map[string]*model.Descriptor) (*model.Descriptor, error) {
	if pipelineName != "" {
		d, ok := pipelines[pipelineName]
		if !ok {
			return nil, fmt.Errorf("pipeline not found: %s (available: %s)", pipelineName, strings.Join(sortedNames(pipelines), ", "))
		}
		return d, nil
	}

	if len(pipelines) != 1 {
		return nil, fmt.Errorf("found %d pipelines (%s); choose one with --pipeline", len(pipelines), strings.Join(sortedNames(pipelines), ", "))
	}
	for _, d := range pipelines {
		return d, nil
	}
	return nil, fmt.Errorf("no pipelines loaded")
}

// newRegistry returns the built-in actions plus the configured templates
func newRegistry() (*action.Registry, error) {
	registry := action.NewRegistry()
	if err := cfg.RegisterActions(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

type eventFlags struct {
	kind    string
	branch  string
	changed bool
	base    string
}

// resolveEvent builds the event from flags, falling back to the CI
// environment and then the local repository
func resolveEvent(ctx context.Context, flags eventFlags) (model.Event, error) {
	detector := git.NewChangeDetector(cfg.WorkDir, flags.base)

	var event model.Event
	if flags.kind != "" {
		kind, err := model.ParseEventKind(flags.kind)
		if err != nil {
			return model.Event{}, err
		}
		event = model.Event{Kind: kind, Branch: flags.branch, Source: "flags"}
		if event.Branch == "" {
			branch, err := detector.CurrentBranch(ctx)
			if err != nil {
				return model.Event{}, fmt.Errorf("no --branch given: %w", err)
			}
			event.Branch = branch
		}
	} else {
		detected, err := git.DetectEvent(ctx, os.LookupEnv, detector)
		if err != nil {
			return model.Event{}, err
		}
		event = detected
		if flags.branch != "" {
			event.Branch = flags.branch
		}
	}

	if flags.changed {
		files, err := detector.GetChangedFiles(ctx)
		if err != nil {
			return model.Event{}, fmt.Errorf("failed to detect changed files: %w", err)
		}
		event.ChangedFiles = files
	}

	return event, nil
}

func sortedNames(pipelines map[string]*model.Descriptor) []string {
	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}
