package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourceplane/litepipe/internal/planner"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate workflows against the schema and resolve every action",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateFiles()
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)
}

func validateFiles() error {
	fmt.Println("□ Validating workflows...")
	pipelines, err := loadPipelines()
	if err != nil {
		return err
	}

	fmt.Printf("✓ %d workflows match the schema\n", len(pipelines))

	registry, err := newRegistry()
	if err != nil {
		return err
	}

	fmt.Println("□ Resolving actions...")
	p := planner.NewPlanner(registry)
	invalid := 0
	for _, name := range sortedNames(pipelines) {
		d := pipelines[name]

		plan, err := p.PlanAll(d)
		if err != nil {
			fmt.Printf("  ✗ %s (%s): %v\n", name, d.Source, err)
			invalid++
			continue
		}

		kinds := make([]string, 0, len(d.On))
		for _, kind := range d.On.Kinds() {
			kinds = append(kinds, string(kind))
		}
		fmt.Printf("  ✓ %s: %d jobs, on %s\n", name, len(plan.Jobs), strings.Join(kinds, ", "))
	}

	if invalid > 0 {
		return fmt.Errorf("found %d invalid workflows", invalid)
	}

	fmt.Println("✓ All validation passed")
	return nil
}
