package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var eventFlagValues eventFlags

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Show the event litepipe would plan for",
	RunE: func(cmd *cobra.Command, args []string) error {
		event, err := resolveEvent(cmd.Context(), eventFlagValues)
		if err != nil {
			return err
		}

		fmt.Printf("Event:  %s\n", event.Kind)
		fmt.Printf("Branch: %s\n", event.Branch)
		if event.Ref != "" {
			fmt.Printf("Ref:    %s\n", event.Ref)
		}
		fmt.Printf("Source: %s\n", event.Source)
		if event.ChangedFiles != nil {
			fmt.Printf("Changed files (%d):\n", len(event.ChangedFiles))
			if len(event.ChangedFiles) > 0 {
				fmt.Println("  " + strings.Join(event.ChangedFiles, "\n  "))
			}
		}
		return nil
	},
}

func registerEventCommand(root *cobra.Command) {
	root.AddCommand(eventCmd)
	addEventFlags(eventCmd, &eventFlagValues)
}
