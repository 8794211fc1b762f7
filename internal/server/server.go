// Package server runs pipelines in response to webhooks, manual dispatches
// and cron schedules.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/sourceplane/litepipe/internal/logstore"
	"github.com/sourceplane/litepipe/internal/model"
	"github.com/sourceplane/litepipe/internal/planner"
	"github.com/sourceplane/litepipe/internal/runner"
	"github.com/sourceplane/litepipe/pkg/log"
)

const shutdownTimeout = 30 * time.Second

type Options struct {
	// Secret enables X-Hub-Signature-256 verification when set.
	Secret        string
	DefaultBranch string
	Store         *logstore.Store
	Logger        *slog.Logger
}

// RunAccepted describes a run started for one pipeline
type RunAccepted struct {
	Pipeline string   `json:"pipeline"`
	RunID    string   `json:"runId"`
	Jobs     []string `json:"jobs"`
}

// DispatchResponse lists the runs an event started
type DispatchResponse struct {
	Event model.Event   `json:"event"`
	Runs  []RunAccepted `json:"runs"`
	Jobs  []string      `json:"jobs"`
}

// RunStatus is returned for runs that have not finished yet
type RunStatus struct {
	ID        string      `json:"id"`
	Pipeline  string      `json:"pipeline"`
	Event     model.Event `json:"event"`
	Status    string      `json:"status"`
	StartedAt time.Time   `json:"startedAt"`
}

type runState struct {
	status RunStatus
	result *model.RunResult
}

type Server struct {
	pipelines     map[string]*model.Descriptor
	planner       *planner.Planner
	runner        *runner.Runner
	store         *logstore.Store
	secret        []byte
	defaultBranch string
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*runState

	cron *cron.Cron
}

// New creates a server for normalized pipelines keyed by name
func New(pipelines map[string]*model.Descriptor, p *planner.Planner, r *runner.Runner, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("server")
	}
	branch := opts.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		pipelines:     pipelines,
		planner:       p,
		runner:        r,
		store:         opts.Store,
		secret:        []byte(opts.Secret),
		defaultBranch: branch,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		runs:          make(map[string]*runState),
	}
}

// Routes returns the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)
	r.Post("/dispatch", s.handleDispatch)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		notFound(w, r, "no route for "+r.URL.Path)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight runs
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr, "pipelines", len(s.pipelines))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down")
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close stops the scheduler, cancels running pipelines and waits for them
func (s *Server) Close() {
	s.StopScheduler()
	s.cancel()
	s.wait()
}

// wait blocks until every started run has finished
func (s *Server) wait() {
	s.wg.Wait()
}

// Dispatch plans every pipeline for the event and starts a run for each
// plan that selected jobs
func (s *Server) Dispatch(event model.Event) (*DispatchResponse, error) {
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return s.dispatch(names, event)
}

// DispatchPipeline is Dispatch restricted to one pipeline
func (s *Server) DispatchPipeline(name string, event model.Event) (*DispatchResponse, error) {
	if _, ok := s.pipelines[name]; !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownPipeline, name)
	}
	return s.dispatch([]string{name}, event)
}

func (s *Server) dispatch(names []string, event model.Event) (*DispatchResponse, error) {
	plans := make([]*model.Plan, 0, len(names))
	for _, name := range names {
		plan, err := s.planner.Plan(s.pipelines[name], event)
		if err != nil {
			return nil, fmt.Errorf("failed to plan pipeline %s: %w", name, err)
		}
		if len(plan.Jobs) > 0 {
			plans = append(plans, plan)
		}
	}

	response := &DispatchResponse{
		Event: event,
		Runs:  make([]RunAccepted, 0, len(plans)),
		Jobs:  []string{},
	}
	for _, plan := range plans {
		runID := s.start(plan)
		response.Runs = append(response.Runs, RunAccepted{
			Pipeline: plan.Metadata.Name,
			RunID:    runID,
			Jobs:     plan.JobNames(),
		})
		response.Jobs = append(response.Jobs, plan.JobNames()...)
	}

	s.logger.Info("Dispatched event", "event", event.String(), "source", event.Source, "runs", len(response.Runs))
	return response, nil
}

func (s *Server) start(plan *model.Plan) string {
	runID := uuid.NewString()

	s.mu.Lock()
	s.runs[runID] = &runState{status: RunStatus{
		ID:        runID,
		Pipeline:  plan.Metadata.Name,
		Event:     plan.Event,
		Status:    "running",
		StartedAt: time.Now(),
	}}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result, err := s.runner.RunWithID(s.ctx, runID, plan)
		if err != nil {
			s.logger.Error("Run failed to start", "run_id", runID, "error", err)
			s.mu.Lock()
			s.runs[runID].status.Status = "error"
			s.mu.Unlock()
			return
		}

		s.finish(runID, result)
	}()

	return runID
}

// finish records a result in memory, or evicts the run once the store
// can serve it
func (s *Server) finish(runID string, result *model.RunResult) {
	persisted := false
	if s.store != nil {
		_, err := s.store.LoadResult(runID)
		persisted = err == nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if persisted {
		delete(s.runs, runID)
		return
	}
	s.runs[runID].result = result
}

// lookupRun returns a finished result, or the status of a run in progress
func (s *Server) lookupRun(id string) (*model.RunResult, *RunStatus, error) {
	s.mu.RLock()
	state, ok := s.runs[id]
	var (
		result *model.RunResult
		status RunStatus
	)
	if ok {
		result = state.result
		status = state.status
	}
	s.mu.RUnlock()

	if ok {
		if result != nil {
			return result, nil, nil
		}
		return nil, &status, nil
	}

	if s.store == nil {
		return nil, nil, fmt.Errorf("%w: %s", logstore.ErrRunNotFound, id)
	}
	result, err := s.store.LoadResult(id)
	if err != nil {
		return nil, nil, err
	}
	return result, nil, nil
}

func (s *Server) runIDs() ([]string, error) {
	seen := make(map[string]bool)

	s.mu.RLock()
	for id := range s.runs {
		seen[id] = true
	}
	s.mu.RUnlock()

	if s.store != nil {
		stored, err := s.store.ListRuns()
		if err != nil {
			return nil, err
		}
		for _, id := range stored {
			seen[id] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
