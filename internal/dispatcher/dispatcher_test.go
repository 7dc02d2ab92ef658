package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
	"github.com/JakeFAU/candidate-discovery/internal/queue/memory"
)

type staticTasks struct{}

func (staticTasks) Get(_ context.Context, id string) (discovery.Task, error) {
	return discovery.Task{ID: id, Status: discovery.TaskStatusQueued}, nil
}

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) Run(context.Context, discovery.Task) error {
	r.runs.Add(1)
	return nil
}

func TestDispatcherRunsTasksAcrossWorkers(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	runner := &countingRunner{}
	d := NewPool(3, q, staticTasks{}, runner, zap.NewNop())
	require.Equal(t, 3, d.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, d.Enqueue(context.Background(), discovery.QueueItem{TaskID: id}))
	}
	require.Eventually(t, func() bool { return runner.runs.Load() == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

type errorQueue struct {
	err error
}

func (q errorQueue) Enqueue(context.Context, discovery.QueueItem) error { return q.err }

func (q errorQueue) Dequeue(ctx context.Context) (discovery.QueueItem, error) {
	<-ctx.Done()
	return discovery.QueueItem{}, ctx.Err()
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(errorQueue{err: errors.New("boom")}, nil)
	err := d.Enqueue(context.Background(), discovery.QueueItem{TaskID: "task"})
	require.EqualError(t, err, "queue enqueue: boom")
}
