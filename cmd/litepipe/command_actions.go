package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourceplane/litepipe/internal/action"
)

var actionsLong bool

var actionsCmd = &cobra.Command{
	Use:   "actions [name]",
	Short: "List the actions steps can reference with uses:",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showAction(args[0])
		}
		return listActions()
	},
}

func registerActionsCommand(root *cobra.Command) {
	root.AddCommand(actionsCmd)
	actionsCmd.Flags().BoolVarP(&actionsLong, "long", "l", false, "Show inputs and templates")
}

func listActions() error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	infos := registry.List()
	fmt.Printf("Available actions (%d):\n\n", len(infos))

	for _, info := range infos {
		if !actionsLong {
			fmt.Printf("  %-32s %s\n", info.Name, info.Description)
			continue
		}
		printAction(info)
		fmt.Println()
	}

	return nil
}

// showAction prints one action; a version suffix is ignored
func showAction(name string) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	name, _, _ = strings.Cut(name, "@")
	info, ok := registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", action.ErrUnknownAction, name)
	}

	printAction(info)
	return nil
}

func printAction(info action.Info) {
	origin := "config"
	if info.Builtin {
		origin = "builtin"
	}

	fmt.Printf("%s (%s)\n", info.Name, origin)
	if info.Description != "" {
		fmt.Printf("  %s\n", info.Description)
	}
	if info.Template != "" {
		fmt.Printf("  Template: %s\n", info.Template)
	}
	if len(info.Inputs) == 0 {
		return
	}

	fmt.Println("  Inputs:")
	for _, input := range info.Inputs {
		var attrs []string
		if input.Required {
			attrs = append(attrs, "required")
		}
		if input.Default != "" {
			attrs = append(attrs, "default: "+input.Default)
		}
		line := fmt.Sprintf("    - %s", input.Name)
		if len(attrs) > 0 {
			line += " (" + strings.Join(attrs, ", ") + ")"
		}
		if input.Description != "" {
			line += ": " + input.Description
		}
		fmt.Println(line)
	}
}
