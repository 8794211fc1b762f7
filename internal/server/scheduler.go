package server

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"github.com/sourceplane/litepipe/internal/model"
)

// StartScheduler registers every schedule trigger and starts the cron loop.
// Scheduled runs target the default branch.
func (s *Server) StartScheduler() error {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
	))

	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := 0
	for _, name := range names {
		filter, ok := s.pipelines[name].On[model.EventSchedule]
		if !ok {
			continue
		}

		for _, schedule := range filter.Schedules {
			pipeline, expr := name, schedule.Cron
			entryID, err := c.AddFunc(expr, func() {
				s.fireSchedule(pipeline, expr)
			})
			if err != nil {
				return fmt.Errorf("failed to schedule pipeline %s (%s): %w", name, expr, err)
			}
			entries++
			s.logger.Info("Added cron job for pipeline", "pipeline", name, "cron", expr, "entry_id", entryID)
		}
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("Scheduler started", "entries", entries)
	return nil
}

// StopScheduler stops the cron loop; running pipelines are not affected
func (s *Server) StopScheduler() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Server) fireSchedule(pipeline, expr string) {
	event := model.Event{
		Kind:   model.EventSchedule,
		Branch: s.defaultBranch,
		Ref:    "refs/heads/" + s.defaultBranch,
		Source: "cron",
	}

	if _, err := s.DispatchPipeline(pipeline, event); err != nil {
		s.logger.Error("Scheduled run failed", "pipeline", pipeline, "cron", expr, "error", err)
	}
}
