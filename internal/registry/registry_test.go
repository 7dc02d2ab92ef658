package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/candidate-discovery/internal/clock/fake"
	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}

func (*seqIDs) Valid(id string) bool { return strings.HasPrefix(id, "task-") }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy") }

func (failingIDs) Valid(string) bool { return false }

type recordingSink struct {
	mu    sync.Mutex
	saved []discovery.Task
	err   error
}

func (s *recordingSink) SaveTask(_ context.Context, task discovery.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, task)
	return s.err
}

type mapLoader map[string]discovery.Task

func (m mapLoader) LoadTask(_ context.Context, id string) (discovery.Task, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return discovery.Task{}, discovery.ErrTaskNotFound
}

var criteria = discovery.SearchCriteria{Title: "backend engineer", Location: "Toronto", MaxResults: 5}

func newRegistry(opts ...Option) (*Registry, *fake.Clock) {
	clk := fake.New(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	return New(&seqIDs{}, clk, opts...), clk
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	r, clk := newRegistry(WithSinks(sink))
	id, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)
	require.Equal(t, "task-1", id)

	task, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, discovery.TaskStatusQueued, task.Status)
	require.Equal(t, criteria, task.Criteria)
	require.Equal(t, clk.Now(), task.CreatedAt)
	require.NotNil(t, task.Results)
	require.Len(t, sink.saved, 1)
}

func TestCreateFailsWithoutID(t *testing.T) {
	t.Parallel()

	r := New(failingIDs{}, fake.New(time.Now()))
	_, err := r.Create(context.Background(), criteria)
	require.Error(t, err)
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
}

func TestGetFallsBackToLoader(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(WithLoader(mapLoader{"task-old": {ID: "task-old", Status: discovery.TaskStatusCompleted}}))
	task, err := r.Get(context.Background(), "task-old")
	require.NoError(t, err)
	require.Equal(t, discovery.TaskStatusCompleted, task.Status)

	_, err = r.Get(context.Background(), "task-never")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
}

type countingLoader struct {
	mu    sync.Mutex
	calls int
}

func (c *countingLoader) LoadTask(context.Context, string) (discovery.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return discovery.Task{}, discovery.ErrTaskNotFound
}

func TestGetRejectsMalformedIDWithoutLoader(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	r, _ := newRegistry(WithLoader(loader))
	_, err := r.Get(context.Background(), "../../etc")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
	require.Zero(t, loader.calls)

	_, err = r.Get(context.Background(), "task-99")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
	require.Equal(t, 1, loader.calls)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	id, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)
	task, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	task.Status = discovery.TaskStatusRunning
	task.Results = append(task.Results, discovery.CandidateProfile{Name: "x", Skills: []string{"go"}})
	require.NoError(t, r.Save(context.Background(), task))

	task.Results[0].Skills[0] = "mutated"
	again, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "go", again.Results[0].Skills[0])

	again.Results[0].Name = "changed"
	third, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "x", third.Results[0].Name)
}

func TestCancelQueuedTaskImmediately(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	r, _ := newRegistry(WithSinks(sink))
	id, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)

	ok, err := r.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, r.CancelRequested(id))

	task, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, discovery.TaskStatusCancelled, task.Status)
	require.Len(t, sink.saved, 2)

	ok, err = r.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelRunningTaskOnlyFlags(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	id, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)
	task, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	task.Status = discovery.TaskStatusRunning
	require.NoError(t, r.Save(context.Background(), task))

	ok, err := r.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, discovery.TaskStatusRunning, got.Status)
	require.True(t, r.CancelRequested(id))
}

func TestCancelUnknown(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	_, err := r.Cancel(context.Background(), "nope")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
	require.False(t, r.CancelRequested("nope"))
}

func TestTerminalTasksAreImmutable(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	id, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)
	_, err = r.Cancel(context.Background(), id)
	require.NoError(t, err)

	late := discovery.Task{
		ID:      id,
		Status:  discovery.TaskStatusCompleted,
		Results: []discovery.CandidateProfile{{Name: "late"}},
	}
	require.ErrorIs(t, r.Save(context.Background(), late), discovery.ErrTaskTerminal)

	task, err := r.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, discovery.TaskStatusCancelled, task.Status)
	require.Empty(t, task.Results)
}

func TestSaveUnknown(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	require.ErrorIs(t, r.Save(context.Background(), discovery.Task{ID: "ghost"}), discovery.ErrTaskNotFound)
}

func TestSinkFailuresDoNotFailWrites(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(WithSinks(&recordingSink{err: errors.New("redis down")}))
	_, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)
}

func TestPruneRemovesOldTerminalTasks(t *testing.T) {
	t.Parallel()

	r, clk := newRegistry()
	oldID, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)
	_, err = r.Cancel(context.Background(), oldID)
	require.NoError(t, err)
	queuedID, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	require.Equal(t, 1, r.Prune(clk.Now().Add(-24*time.Hour)))
	require.Equal(t, 1, r.Len())
	_, err = r.Get(context.Background(), oldID)
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
	_, err = r.Get(context.Background(), queuedID)
	require.NoError(t, err)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry()
	id, err := r.Create(context.Background(), criteria)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		task, _ := r.Get(context.Background(), id)
		task.Status = discovery.TaskStatusRunning
		for i := range 50 {
			task.Results = append(task.Results, discovery.CandidateProfile{Name: fmt.Sprint(i)})
			task.Progress.ProfilesFound = len(task.Results)
			_ = r.Save(context.Background(), task)
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				snap, err := r.Get(context.Background(), id)
				if err != nil {
					t.Error(err)
					return
				}
				if snap.Progress.ProfilesFound != len(snap.Results) {
					t.Errorf("torn snapshot: %d vs %d", snap.Progress.ProfilesFound, len(snap.Results))
					return
				}
			}
		}()
	}
	wg.Wait()
}
