package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/config"
	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/metrics"
	"github.com/JakeFAU/candidate-discovery/internal/quota"
)

const enqueueTimeout = 5 * time.Second

// TaskRegistry is the task table the handlers read and mutate.
type TaskRegistry interface {
	Create(ctx context.Context, criteria discovery.SearchCriteria) (string, error)
	Get(ctx context.Context, taskID string) (discovery.Task, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
}

// Runner executes a task inline for synchronous searches.
type Runner interface {
	Run(ctx context.Context, task discovery.Task) error
}

// Enqueuer hands tasks to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, item discovery.QueueItem) error
}

// QuotaReporter exposes today's ledger counters.
type QuotaReporter interface {
	Snapshot() []quota.Usage
}

// ReadinessCheck reports whether a downstream is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps bundles the server's collaborators.
type Deps struct {
	Tasks  TaskRegistry
	Runner Runner
	Queue  Enqueuer
	Quota  QuotaReporter
	Clock  discovery.Clock
	Ready  map[string]ReadinessCheck
}

// Server wires HTTP handlers to the registry, queue and controller.
type Server struct {
	router  chi.Router
	handler http.Handler
	deps    Deps
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/v1", func(r chi.Router) {
			r.Route("/discovery", func(r chi.Router) {
				r.Post("/search", s.search)
				r.Get("/status/{task_id}", s.status)
				r.Post("/{task_id}/cancel", s.cancel)
			})
			r.Get("/quota", s.quota)
		})
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "discovery-api",
		otelhttp.WithFilter(func(req *http.Request) bool {
			switch req.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Title           string   `json:"title"`
	Location        string   `json:"location"`
	Company         string   `json:"company"`
	Skills          []string `json:"skills"`
	MaxResults      *int     `json:"max_results"`
	RunInBackground bool     `json:"run_in_background"`
}

type searchResponse struct {
	TaskID  string                       `json:"task_id"`
	Status  discovery.TaskStatus         `json:"status"`
	Results []discovery.CandidateProfile `json:"results,omitempty"`
	Note    *discovery.TaskError         `json:"note,omitempty"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	criteria, err := discovery.NewSearchCriteria(
		req.Title,
		req.Location,
		req.Company,
		req.Skills,
		req.MaxResults,
		discovery.CriteriaLimits{
			DefaultMaxResults: s.cfg.Discovery.MaxResultsDefault,
			Ceiling:           s.cfg.Discovery.MaxResultsCeiling,
		},
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := s.deps.Tasks.Create(r.Context(), criteria)
	if err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create task failed")
		return
	}
	log := s.logger.With(zap.String("task_id", taskID))

	if req.RunInBackground {
		if err := s.enqueue(r.Context(), taskID); err != nil {
			log.Error("enqueue task failed", zap.Error(err))
			if _, cerr := s.deps.Tasks.Cancel(context.WithoutCancel(r.Context()), taskID); cerr != nil {
				log.Warn("cancel unqueued task failed", zap.Error(cerr))
			}
			writeError(w, http.StatusServiceUnavailable, "task queue unavailable")
			return
		}
		writeJSON(w, http.StatusAccepted, searchResponse{TaskID: taskID, Status: discovery.TaskStatusQueued})
		return
	}

	s.runInline(w, r, taskID, log)
}

func (s *Server) enqueue(ctx context.Context, taskID string) error {
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := discovery.QueueItem{TaskID: taskID, Submitted: s.deps.Clock.Now().Unix()}
	if err := s.deps.Queue.Enqueue(queueCtx, item); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (s *Server) runInline(w http.ResponseWriter, r *http.Request, taskID string, log *zap.Logger) {
	task, err := s.deps.Tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load task failed")
		return
	}
	ctx := r.Context()
	if timeout := s.cfg.SyncTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	runErr := s.deps.Runner.Run(ctx, task)
	if runErr != nil {
		log.Error("inline run failed", zap.Error(runErr))
	}

	final, err := s.deps.Tasks.Get(context.WithoutCancel(r.Context()), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load task failed")
		return
	}
	if final.Status == discovery.TaskStatusFailed && final.Error != nil {
		writeTaskFailure(w, final)
		return
	}
	if runErr != nil {
		writeError(w, http.StatusInternalServerError, "task run failed")
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		TaskID:  final.ID,
		Status:  final.Status,
		Results: final.Results,
		Note:    final.Note,
	})
}

// writeTaskFailure maps a failed task onto the synchronous error contract.
func writeTaskFailure(w http.ResponseWriter, task discovery.Task) {
	e := task.Error
	body := map[string]any{"task_id": task.ID, "message": e.Message}
	status := http.StatusBadGateway
	switch e.Reason {
	case discovery.ReasonQuotaExhausted:
		status = http.StatusTooManyRequests
		body["error"] = "quota_exhausted"
		remaining := 0
		if e.Remaining != nil {
			remaining = *e.Remaining
		}
		body["remaining"] = remaining
	case discovery.ReasonAutomationBlocked:
		body["error"] = "automation_blocked"
		body["hint"] = e.Hint
	case discovery.ReasonNavigatorTimeout:
		status = http.StatusGatewayTimeout
		body["error"] = "navigator_timeout"
	case discovery.ReasonPersistenceUnavailable:
		status = http.StatusServiceUnavailable
		body["error"] = "persistence_unavailable"
	default:
		body["error"] = "navigation_error"
	}
	if len(task.Results) > 0 {
		body["results"] = task.Results
	}
	writeJSON(w, status, body)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.deps.Tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, discovery.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load task failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	ok, err := s.deps.Tasks.Cancel(r.Context(), taskID)
	switch {
	case errors.Is(err, discovery.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "cancel failed")
	case !ok:
		writeJSON(w, http.StatusConflict, map[string]any{"task_id": taskID, "cancelled": false, "error": "task already finished"})
	default:
		s.logger.Info("cancellation requested", zap.String("task_id", taskID))
		writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "cancelled": true})
	}
}

func (s *Server) quota(w http.ResponseWriter, _ *http.Request) {
	usage := s.deps.Quota.Snapshot()
	for _, u := range usage {
		metrics.SetQuotaUsed(string(u.Kind), u.Used)
	}
	writeJSON(w, http.StatusOK, map[string]any{"quota": usage})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
