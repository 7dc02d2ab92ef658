package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchTasks: flush once this many distinct tasks are pending (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
type Config struct {
	BufferSize    int
	MaxBatchTasks int
	MaxBatchWait  time.Duration
	SinkTimeout   time.Duration
	Logger        *zap.Logger
}

const (
	defaultBufferSize    = 1024
	defaultMaxBatchTasks = 100
	defaultMaxBatchWait  = 250 * time.Millisecond
	defaultSinkTimeout   = 5 * time.Second
	dropLogInterval      = 5 * time.Second
)

// Hub implements discovery.TaskSink by queueing snapshots and writing the
// latest one per task to every wrapped sink on a background goroutine.
// Non-terminal snapshots are dropped under backpressure; terminal snapshots
// wait for buffer space.
type Hub struct {
	cfg       Config
	sinks     []discovery.TaskSink
	snapshots chan discovery.Task
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *zap.Logger
	dropLog   rate.Sometimes
	dropped   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewHub starts the batching goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...discovery.TaskSink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchTasks <= 0 {
		cfg.MaxBatchTasks = defaultMaxBatchTasks
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:       cfg,
		snapshots: make(chan discovery.Task, cfg.BufferSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    logger,
		dropLog:   rate.Sometimes{Interval: dropLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run()
	return h
}

// SaveTask queues a snapshot. It returns an error only when a terminal
// snapshot cannot be queued before ctx ends or the hub has been closed.
func (h *Hub) SaveTask(ctx context.Context, task discovery.Task) error {
	if h.closed.Load() {
		if task.Status.Terminal() {
			return fmt.Errorf("progress hub closed: task %s", task.ID)
		}
		return nil
	}
	snap := task.Clone()
	if !snap.Status.Terminal() {
		select {
		case h.snapshots <- snap:
		default:
			h.dropped.Add(1)
			h.dropLog.Do(func() {
				h.logger.Warn("task snapshots dropped due to backpressure",
					zap.Int64("dropped", h.dropped.Swap(0)))
			})
		}
		return nil
	}
	select {
	case h.snapshots <- snap:
		return nil
	case <-h.stopCh:
		return fmt.Errorf("progress hub closed: task %s", task.ID)
	case <-ctx.Done():
		return fmt.Errorf("queue terminal snapshot %s: %w", task.ID, ctx.Err())
	}
}

// Close flushes pending snapshots and waits for the background goroutine.
// It is safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	pending := make(map[string]discovery.Task)
	var order []string
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()

	add := func(t discovery.Task) {
		if _, ok := pending[t.ID]; !ok {
			order = append(order, t.ID)
		}
		pending[t.ID] = t
	}
	flush := func() {
		if len(order) == 0 {
			return
		}
		for _, id := range order {
			h.write(pending[id])
		}
		clear(pending)
		order = order[:0]
	}

	for {
		select {
		case t := <-h.snapshots:
			first := len(order) == 0
			add(t)
			if len(order) >= h.cfg.MaxBatchTasks {
				timer.Stop()
				flush()
			} else if first {
				timer.Reset(h.cfg.MaxBatchWait)
			}
		case <-timer.C:
			flush()
		case <-h.stopCh:
			timer.Stop()
			for {
				select {
				case t := <-h.snapshots:
					add(t)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (h *Hub) write(task discovery.Task) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.SaveTask(ctx, task); err != nil {
			h.logger.Warn("task mirror failed",
				zap.String("task_id", task.ID),
				zap.String("status", string(task.Status)),
				zap.Error(err),
			)
		}
		cancel()
	}
}
