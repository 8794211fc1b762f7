package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourceplane/litepipe/internal/notify"
	"github.com/sourceplane/litepipe/internal/planner"
	"github.com/sourceplane/litepipe/internal/server"
	"github.com/sourceplane/litepipe/pkg/log"
)

var (
	serveListen  string
	serveExecute bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run pipelines on webhooks, manual dispatches and schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
}

func registerServeCommand(root *cobra.Command) {
	root.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: config server.listen)")
	serveCmd.Flags().BoolVarP(&serveExecute, "execute", "x", true, "Execute commands; false prints them only")
}

func serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	logger := log.WithModule("serve")

	pipelines, err := loadPipelines()
	if err != nil {
		return err
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}

	r, cleanup, err := newRunner(ctx, cfg.WorkDir, !serveExecute)
	if err != nil {
		return err
	}
	defer cleanup()

	if r.Notifier == nil {
		publisher, sub, err := notify.New(notify.Config{Topic: cfg.Events.Topic}, log.WithModule("notify"))
		if err != nil {
			return err
		}
		defer publisher.Close()

		if err := logNotifications(ctx, sub, publisher.Topic(), logger); err != nil {
			return fmt.Errorf("failed to subscribe to notifications: %w", err)
		}
		r.Notifier = publisher
	}

	srv := server.New(pipelines, planner.NewPlanner(registry), r, server.Options{
		Secret:        cfg.Server.Secret,
		DefaultBranch: cfg.Server.DefaultBranch,
		Store:         r.Logs,
	})

	if err := srv.StartScheduler(); err != nil {
		return err
	}

	addr := cfg.Server.Listen
	if serveListen != "" {
		addr = serveListen
	}
	return srv.ListenAndServe(ctx, addr)
}
