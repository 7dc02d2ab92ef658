// Package worker executes queued discovery tasks.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// TaskSource resolves queued task ids.
type TaskSource interface {
	Get(ctx context.Context, taskID string) (discovery.Task, error)
}

// Runner drives one task to completion.
type Runner interface {
	Run(ctx context.Context, task discovery.Task) error
}

// Worker consumes queue items and runs the controller for each.
type Worker struct {
	id     int
	queue  discovery.Queue
	tasks  TaskSource
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue discovery.Queue, tasks TaskSource, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		tasks:  tasks,
		runner: runner,
		logger: logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, discovery.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item discovery.QueueItem) {
	log := w.logger.With(zap.String("task_id", item.TaskID))
	task, err := w.tasks.Get(ctx, item.TaskID)
	if err != nil {
		log.Warn("queued task not found", zap.Error(err))
		return
	}
	if task.Status.Terminal() {
		log.Info("skipping task", zap.String("status", string(task.Status)))
		return
	}
	if err := w.runner.Run(ctx, task); err != nil {
		log.Error("task run failed", zap.Error(err))
	}
}
