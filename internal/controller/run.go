package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/guardrail"
	"github.com/JakeFAU/candidate-discovery/internal/metrics"
	"github.com/JakeFAU/candidate-discovery/internal/quota"
)

// errStopped means the stored task went terminal underneath this run.
var errStopped = errors.New("task stopped externally")

// run is the state of one task execution.
type run struct {
	c         *Controller
	task      discovery.Task
	log       *zap.Logger
	validator *guardrail.Validator
	span      trace.Span

	grant *quota.Grant
	used  int
	// deniedErr holds the ledger refusal that ended accrual, if any.
	deniedErr error
}

func (r *run) execute(ctx context.Context) error {
	if r.cancelled(ctx) {
		return r.finish(ctx, discovery.TaskStatusCancelled, nil, nil)
	}

	if !r.reserve(min(r.need(), r.c.cfg.ReservationBatch)) {
		remaining, _ := deniedRemaining(r.deniedErr)
		taskErr := failure(discovery.ReasonQuotaExhausted, "daily profile quota exhausted before the task started")
		taskErr.Remaining = &remaining
		return r.finish(ctx, discovery.TaskStatusFailed, taskErr, nil)
	}

	r.task.Status = discovery.TaskStatusRunning
	if err := r.save(ctx); err != nil {
		r.settle()
		if errors.Is(err, errStopped) {
			return nil
		}
		return err
	}
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()
	r.log.Info("task started",
		zap.String("title", r.task.Criteria.Title),
		zap.String("location", r.task.Criteria.Location),
		zap.Int("max_results", r.task.Criteria.MaxResults))

	session, err := r.c.deps.Navigator.OpenSearch(ctx, r.task.Criteria)
	if err != nil {
		if ctx.Err() != nil {
			return r.finish(ctx, discovery.TaskStatusCancelled, nil, nil)
		}
		return r.finish(ctx, discovery.TaskStatusFailed, failure(discovery.ReasonNavigationError, "open browser session: %v", err), nil)
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.log.Warn("close session failed", zap.Error(err))
		}
	}()

	r.validator = guardrail.NewValidator(r.task.Criteria.Skills...)
	for {
		if r.cancelled(ctx) {
			return r.finish(ctx, discovery.TaskStatusCancelled, nil, nil)
		}

		page, err := r.collect(ctx, session)
		if err != nil {
			return r.failNavigation(ctx, err)
		}
		r.task.Progress.PagesVisited++

		done, err := r.processPage(ctx, page)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		more, err := session.AdvancePage(ctx)
		if err != nil {
			return r.failNavigation(ctx, err)
		}
		if !more {
			r.log.Info("no further pages", zap.Int("page", page.Number))
			return r.finish(ctx, discovery.TaskStatusCompleted, nil, nil)
		}
	}
}

// processPage extracts, validates and records one page. done is true when
// the task reached a terminal status.
func (r *run) processPage(ctx context.Context, page discovery.RawPage) (done bool, err error) {
	log := r.log.With(zap.Int("page", page.Number))
	ctx, span := r.c.deps.Tracer.Start(ctx, "discovery.page", trace.WithAttributes(attribute.Int("page.number", page.Number)))
	defer func() {
		span.SetAttributes(attribute.Int("task.results", len(r.task.Results)))
		span.End()
	}()

	extraction, err := r.c.deps.Extractor.Extract(page, r.task.Criteria.Skills)
	if err != nil || extraction.Len() == 0 {
		if err == nil && page.NoResults {
			metrics.ObservePage("no_results")
			log.Info("search returned no results")
			return true, r.finish(ctx, discovery.TaskStatusCompleted, nil, nil)
		}
		r.skipPage(ctx, page, err)
		return false, r.saveOrStop(ctx)
	}
	metrics.ObservePage("collected")

	accepted := make([]discovery.CandidateProfile, 0, extraction.Len())
	for p := range extraction.Profiles() {
		if len(r.task.Results)+len(accepted) >= r.task.Criteria.MaxResults {
			break
		}
		if reason := r.validator.Validate(p); reason != discovery.RejectNone {
			r.task.Progress.Rejected[reason]++
			metrics.ObserveProfile("rejected")
			metrics.ObserveRejection(string(reason))
			log.Debug("profile rejected", zap.String("reason", string(reason)), zap.String("url", p.SourceURL))
			continue
		}
		want := min(r.need()-len(accepted), extraction.Len())
		if !r.take(want) {
			log.Info("quota exhausted mid-page", zap.Int("accepted_on_page", len(accepted)))
			break
		}
		accepted = append(accepted, p)
		metrics.ObserveProfile("accepted")
	}
	// Record-level charge: commit exactly the accepted records.
	r.settle()

	if len(accepted) > 0 && r.c.deps.Candidates != nil {
		saved, err := r.c.deps.Candidates.SaveCandidates(ctx, r.task.ID, accepted)
		r.task.Progress.ProfilesSaved += saved
		if err != nil {
			r.appendResults(accepted)
			log.Error("persist candidates failed", zap.Error(err))
			taskErr := failure(discovery.ReasonPersistenceUnavailable, "persist candidates: %v", err)
			if ferr := r.finish(ctx, discovery.TaskStatusFailed, taskErr, nil); ferr != nil {
				return true, ferr
			}
			return true, fmt.Errorf("persist candidates for task %s: %w", r.task.ID, err)
		}
	}
	r.appendResults(accepted)
	log.Info("page processed", zap.Int("accepted", len(accepted)), zap.Int("total", len(r.task.Results)))

	switch {
	case len(r.task.Results) >= r.task.Criteria.MaxResults:
		return true, r.finish(ctx, discovery.TaskStatusCompleted, nil, nil)
	case r.deniedErr != nil:
		remaining, _ := deniedRemaining(r.deniedErr)
		note := failure(discovery.ReasonQuotaExhausted, "daily profile quota exhausted after %d results", len(r.task.Results))
		note.Remaining = &remaining
		return true, r.finish(ctx, discovery.TaskStatusCompleted, nil, note)
	}
	return false, r.saveOrStop(ctx)
}

func (r *run) skipPage(ctx context.Context, page discovery.RawPage, cause error) {
	r.task.Progress.PagesSkipped++
	metrics.ObservePage("skipped")
	fields := []zap.Field{zap.Int("page", page.Number), zap.String("url", page.URL)}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	r.log.Warn(discovery.ErrUnknownPageStructure.Error(), fields...)
	if uri, err := r.c.deps.Archiver.Archive(ctx, r.task.ID, page, "unknown_structure"); err != nil {
		r.log.Warn("archive page failed", zap.Int("page", page.Number), zap.Error(err))
	} else if uri != "" {
		r.log.Info("page archived", zap.Int("page", page.Number), zap.String("uri", uri))
	}
}

// collect fetches the current page, retrying transient automation failures
// with backoff. The navigator's own delay applies to every attempt.
func (r *run) collect(ctx context.Context, session discovery.Session) (discovery.RawPage, error) {
	for attempt := 1; ; attempt++ {
		page, err := session.CollectPage(ctx)
		if err == nil {
			return page, nil
		}
		if !r.c.deps.Retry.ShouldRetry(err, attempt) {
			return discovery.RawPage{}, err
		}
		cause := "timeout"
		if errors.Is(err, discovery.ErrBotDetected) {
			cause = "bot_detected"
		}
		r.task.Progress.Retries++
		metrics.ObserveRetry(cause)
		wait := r.c.deps.Retry.Backoff(attempt)
		r.log.Warn("page collection failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("reason", cause),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := r.c.deps.Clock.Sleep(ctx, wait); err != nil {
			return discovery.RawPage{}, err
		}
	}
}

func (r *run) failNavigation(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return r.finish(ctx, discovery.TaskStatusCancelled, nil, nil)
	case errors.Is(err, discovery.ErrBotDetected):
		metrics.ObservePage("blocked")
		taskErr := failure(discovery.ReasonAutomationBlocked, "automation challenge persisted after %d attempts: %v", r.c.deps.Retry.MaxAttempts(), err)
		taskErr.Hint = r.c.cfg.AutomationHint
		return r.finish(ctx, discovery.TaskStatusFailed, taskErr, nil)
	case errors.Is(err, discovery.ErrNavigatorTimeout):
		metrics.ObservePage("timeout")
		return r.finish(ctx, discovery.TaskStatusFailed, failure(discovery.ReasonNavigatorTimeout, "page load timed out after %d attempts: %v", r.c.deps.Retry.MaxAttempts(), err), nil)
	default:
		metrics.ObservePage("failed")
		return r.finish(ctx, discovery.TaskStatusFailed, failure(discovery.ReasonNavigationError, "navigation failed: %v", err), nil)
	}
}

// take claims one quota unit, reserving up to want more when the current
// grant is used up.
func (r *run) take(want int) bool {
	if r.grant != nil && r.used < r.grant.Amount {
		r.used++
		return true
	}
	if !r.reserve(want) {
		return false
	}
	r.used = 1
	return true
}

// reserve settles the current grant and asks the ledger for a fresh one.
func (r *run) reserve(want int) bool {
	r.settle()
	g, err := r.c.deps.Ledger.Reserve(quota.KindProfiles, max(want, 1))
	if err != nil {
		r.deniedErr = err
		return false
	}
	r.grant = &g
	return true
}

// settle commits the units used from the current grant and releases the rest.
func (r *run) settle() {
	if r.grant == nil {
		return
	}
	if err := r.c.deps.Ledger.Commit(*r.grant, r.used); err != nil {
		r.log.Error("quota commit failed", zap.Error(err))
	}
	r.grant = nil
	r.used = 0
}

func (r *run) need() int {
	return max(r.task.Criteria.MaxResults-len(r.task.Results), 0)
}

func (r *run) appendResults(accepted []discovery.CandidateProfile) {
	r.task.Results = append(r.task.Results, accepted...)
	r.task.Progress.ProfilesFound = len(r.task.Results)
}

func (r *run) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || r.c.deps.Store.CancelRequested(r.task.ID)
}

func (r *run) save(ctx context.Context) error {
	r.task.UpdatedAt = r.now()
	err := r.c.deps.Store.Save(context.WithoutCancel(ctx), r.task)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, discovery.ErrTaskTerminal), errors.Is(err, discovery.ErrTaskNotFound):
		r.log.Warn("task no longer writable", zap.Error(err))
		return errStopped
	default:
		return fmt.Errorf("save task %s: %w", r.task.ID, err)
	}
}

// saveOrStop publishes an intermediate snapshot.
func (r *run) saveOrStop(ctx context.Context) error {
	err := r.save(ctx)
	if errors.Is(err, errStopped) {
		r.settle()
		return nil
	}
	return err
}

func (r *run) finish(ctx context.Context, status discovery.TaskStatus, taskErr, note *discovery.TaskError) error {
	r.settle()
	r.task.Status = status
	r.task.Error = taskErr
	r.task.Note = note
	if err := r.save(ctx); err != nil {
		if errors.Is(err, errStopped) {
			return nil
		}
		return err
	}
	metrics.ObserveTask(string(status))
	r.span.SetAttributes(
		attribute.String("task.status", string(status)),
		attribute.Int("task.results", len(r.task.Results)),
		attribute.Int("task.pages_visited", r.task.Progress.PagesVisited),
	)
	if taskErr != nil {
		r.span.SetStatus(codes.Error, string(taskErr.Reason))
	}
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("results", len(r.task.Results)),
		zap.Int("pages_visited", r.task.Progress.PagesVisited),
		zap.Int("retries", r.task.Progress.Retries),
	}
	if taskErr != nil {
		fields = append(fields, zap.String("reason", string(taskErr.Reason)), zap.String("error", taskErr.Message))
	}
	if note != nil {
		fields = append(fields, zap.String("reason", string(note.Reason)))
	}
	r.log.Info("task finished", fields...)
	r.c.publish(context.WithoutCancel(ctx), r.task, r.log)
	return nil
}

func (r *run) now() time.Time {
	return r.c.deps.Clock.Now()
}
