// Package controller runs discovery tasks: it owns each task's state machine
// and drives navigator, extractor and guardrail page by page under the
// shared quota ledger.
package controller

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/archive"
	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/extractor"
	"github.com/JakeFAU/candidate-discovery/internal/quota"
	"github.com/JakeFAU/candidate-discovery/internal/retry"
)

const (
	defaultReservationBatch = 10
	defaultTopic            = "discovery-task-events"
	tracerName              = "github.com/JakeFAU/candidate-discovery/internal/controller"
	defaultAutomationHint   = "The site is challenging automated navigation. Retry with navigation.headless=false or a longer navigation.delay_ms."
)

// TaskStore receives task snapshots and answers cancellation queries.
type TaskStore interface {
	Save(ctx context.Context, task discovery.Task) error
	CancelRequested(taskID string) bool
}

// Ledger is the quota surface the controller charges.
type Ledger interface {
	Reserve(kind quota.Kind, n int) (quota.Grant, error)
	Commit(g quota.Grant, actual int) error
}

// Config tunes the controller.
type Config struct {
	// ReservationBatch bounds the first reservation taken before a task starts.
	ReservationBatch int
	// Topic receives terminal task events.
	Topic string
	// AutomationHint is attached to AutomationBlocked failures.
	AutomationHint string
}

// Deps bundles the controller's collaborators. Candidates, Archiver and
// Publisher are optional.
type Deps struct {
	Store      TaskStore
	Ledger     Ledger
	Navigator  discovery.Navigator
	Extractor  *extractor.Extractor
	Retry      *retry.Policy
	Clock      discovery.Clock
	Candidates discovery.CandidateStore
	Archiver   *archive.Archiver
	Publisher  discovery.Publisher
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

// Controller executes tasks. It is safe to run many tasks concurrently; each
// Run call owns its own browser session and validator.
type Controller struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// New builds a Controller.
func New(deps Deps, cfg Config) *Controller {
	if cfg.ReservationBatch <= 0 {
		cfg.ReservationBatch = defaultReservationBatch
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if cfg.AutomationHint == "" {
		cfg.AutomationHint = defaultAutomationHint
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.New(extractor.Selectors{})
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(retry.Config{})
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{deps: deps, cfg: cfg, log: logger.Named("controller")}
}

// Run drives task to a terminal status. Scraping failures are recorded on
// the task; only persistence failures are returned.
func (c *Controller) Run(ctx context.Context, task discovery.Task) error {
	if task.Status.Terminal() {
		return nil
	}
	ctx, span := c.deps.Tracer.Start(ctx, "discovery.task", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int("task.max_results", task.Criteria.MaxResults),
	))
	defer span.End()
	r := &run{
		c:    c,
		task: task.Clone(),
		log:  c.log.With(zap.String("task_id", task.ID)),
		span: span,
	}
	if r.task.Results == nil {
		r.task.Results = []discovery.CandidateProfile{}
	}
	if r.task.Progress.Rejected == nil {
		r.task.Progress.Rejected = make(map[discovery.RejectReason]int)
	}
	return r.execute(ctx)
}

// publish emits the terminal event; failures are logged only.
func (c *Controller) publish(ctx context.Context, task discovery.Task, log *zap.Logger) {
	if c.deps.Publisher == nil {
		return
	}
	if _, err := c.deps.Publisher.Publish(ctx, c.cfg.Topic, discovery.NewTaskEvent(task)); err != nil {
		log.Warn("publish task event failed", zap.Error(err))
	}
}

func deniedRemaining(err error) (int, bool) {
	var denied *quota.DeniedError
	if errors.As(err, &denied) {
		return denied.Remaining, true
	}
	return 0, false
}

func failure(reason discovery.FailureReason, format string, args ...any) *discovery.TaskError {
	return &discovery.TaskError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
