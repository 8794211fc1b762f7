package main

import (
	"github.com/spf13/cobra"

	"github.com/sourceplane/litepipe/internal/config"
	"github.com/sourceplane/litepipe/pkg/log"
)

var (
	configFile   string
	logLevel     string
	workflowFile string
	workflowsDir string
	pipelineName string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "litepipe",
	Short:         "Pipeline runner: Workflow → Plan → Run",
	Long:          "litepipe loads declarative CI workflows, selects the jobs an event triggers and runs them: jobs independently, steps in order with early exit",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Resolve(configFile))
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		cfg = loaded

		log.Setup(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().StringVarP(&workflowFile, "workflow", "w", "", "Workflow file; overrides --workflows-dir")
	rootCmd.PersistentFlags().StringVarP(&workflowsDir, "workflows-dir", "d", ".github/workflows", "Workflow directory (use * or ** for recursive scanning)")
	rootCmd.PersistentFlags().StringVar(&pipelineName, "pipeline", "", "Pipeline name when the directory declares several")

	registerPlanCommand(rootCmd)
	registerRunCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerEventCommand(rootCmd)
	registerActionsCommand(rootCmd)
	registerServeCommand(rootCmd)
}
