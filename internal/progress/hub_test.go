package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// TestHubFlushesAtBatchSize verifies the hub writes as soon as enough distinct tasks are pending.
func TestHubFlushesAtBatchSize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchTasks: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusRunning, 1)))
	require.NoError(t, hub.SaveTask(context.Background(), snapshot("b", discovery.TaskStatusRunning, 1)))
	require.Eventually(t, func() bool {
		return len(sink.Saved()) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubFlushesOnTimer verifies a small batch is written once the wait elapses.
func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchTasks: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusRunning, 1)))
	require.Eventually(t, func() bool {
		return len(sink.Saved()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubCoalescesPerTask keeps only the newest snapshot of each task within a batch.
func TestHubCoalescesPerTask(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchTasks: 10, MaxBatchWait: time.Minute}, sink)

	for i := range 5 {
		require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusRunning, i)))
	}
	require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusCompleted, 5)))
	require.NoError(t, hub.Close(context.Background()))

	saved := sink.Saved()
	require.Len(t, saved, 1)
	require.Equal(t, discovery.TaskStatusCompleted, saved[0].Status)
	require.Equal(t, 5, saved[0].Progress.PagesVisited)
}

// TestHubDropsProgressUnderBackpressure asserts non-terminal saves never block callers.
func TestHubDropsProgressUnderBackpressure(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		snapshots: make(chan discovery.Task),
		stopCh:    make(chan struct{}),
		logger:    zap.NewNop(),
	}
	start := time.Now()
	require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusRunning, 1)))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.dropped.Load())
}

// TestHubTerminalSaveRespectsContext makes a blocked terminal save fail with the caller's context.
func TestHubTerminalSaveRespectsContext(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		snapshots: make(chan discovery.Task),
		stopCh:    make(chan struct{}),
		logger:    zap.NewNop(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := hub.SaveTask(ctx, snapshot("a", discovery.TaskStatusFailed, 1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestHubSinkErrorsDoNotStopOtherSinks checks each sink is written independently.
func TestHubSinkErrorsDoNotStopOtherSinks(t *testing.T) {
	t.Parallel()

	bad := &stubSink{err: errors.New("redis down")}
	good := &stubSink{}
	hub := NewHub(Config{}, bad, nil, good)
	require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusCompleted, 1)))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, good.Saved(), 1)
	require.Len(t, bad.Saved(), 1)
}

// TestHubSaveAfterClose rejects terminal snapshots once shutdown began.
func TestHubSaveAfterClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{})
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.NoError(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusRunning, 1)))
	require.Error(t, hub.SaveTask(context.Background(), snapshot("a", discovery.TaskStatusCompleted, 1)))
}

type stubSink struct {
	mu    sync.Mutex
	saved []discovery.Task
	err   error
}

func (s *stubSink) SaveTask(_ context.Context, task discovery.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, task)
	return s.err
}

func (s *stubSink) Saved() []discovery.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]discovery.Task(nil), s.saved...)
}

func snapshot(id string, status discovery.TaskStatus, pages int) discovery.Task {
	return discovery.Task{
		ID:        id,
		Status:    status,
		Progress:  discovery.TaskProgress{PagesVisited: pages},
		UpdatedAt: time.Now(),
	}
}
