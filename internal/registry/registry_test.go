package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nadmax/autocourse/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu        sync.Mutex
	published []task.Task
	removed   []string
	err       error
}

func (r *recordingReporter) Publish(_ context.Context, t task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, t)
	return r.err
}

func (r *recordingReporter) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, key)
	return r.err
}

func (r *recordingReporter) statuses() []task.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]task.TaskStatus, 0, len(r.published))
	for _, t := range r.published {
		out = append(out, t.Status)
	}
	return out
}

func (r *recordingReporter) removedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func newTask(key string) task.Task {
	return task.NewTask(key, task.ModuleBatchType, "c1", "go-basics")
}

func TestCreate(t *testing.T) {
	r := New()
	defer r.Close()

	created, err := r.Create("module-go-basics-1", newTask("ignored"))
	require.NoError(t, err)

	assert.Equal(t, "module-go-basics-1", created.Key)
	assert.Equal(t, task.RunningStatus, created.Status)

	got, ok := r.Get("module-go-basics-1")
	require.True(t, ok)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreate_RejectsDuplicateWhileRunning(t *testing.T) {
	r := New()
	defer r.Close()

	first, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	_, err = r.Create("k", newTask("k"))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.Len(t, r.List(), 1)
	got, _ := r.Get("k")
	assert.Equal(t, first.ID, got.ID)
}

func TestCreate_ConcurrentAdmission(t *testing.T) {
	r := New()
	defer r.Close()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create("k", newTask("k"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if errors.Is(err, ErrAlreadyRunning) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 19, rejected)
	assert.Len(t, r.List(), 1)
}

func TestCreate_ReplacesFinishedTask(t *testing.T) {
	r := New()
	defer r.Close()

	first, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("k", task.CompletedStatus, "done"))

	second, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, _ := r.Get("k")
	assert.Equal(t, task.RunningStatus, got.Status)
}

func TestCreate_AcceptsAfterPause(t *testing.T) {
	r := New()
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("k", task.PausedStatus, "Stopped"))

	_, err = r.Create("k", newTask("k"))
	assert.NoError(t, err)
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	r := New()
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	require.NoError(t, r.UpdateProgress("k", 40, "two of five"))
	require.NoError(t, r.UpdateProgress("k", 20, "late update"))

	got, _ := r.Get("k")
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "late update", got.Message)

	require.NoError(t, r.UpdateProgress("k", 250, ""))
	got, _ = r.Get("k")
	assert.Equal(t, 100, got.Progress)
}

func TestUpdateProgress_UnknownKey(t *testing.T) {
	r := New()
	defer r.Close()

	assert.ErrorIs(t, r.UpdateProgress("missing", 10, "x"), ErrTaskNotFound)
	assert.ErrorIs(t, r.UpdateStatus("missing", task.CompletedStatus, "x"), ErrTaskNotFound)
}

func TestUpdateStatus_TerminalAtMostOnce(t *testing.T) {
	r := New()
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus("k", task.CompletedStatus, "4/4 items processed"))
	err = r.UpdateStatus("k", task.ErrorStatus, "boom")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = r.UpdateProgress("k", 100, "after the fact")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := r.Get("k")
	assert.Equal(t, task.CompletedStatus, got.Status)
	assert.Equal(t, "4/4 items processed", got.Message)
	assert.NotNil(t, got.FinishedAt)
}

func TestUpdateStatus_RejectsRunning(t *testing.T) {
	r := New()
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.UpdateStatus("k", task.RunningStatus, ""), ErrInvalidTransition)
}

func TestRetentionPurge(t *testing.T) {
	rep := &recordingReporter{}
	r := New(WithRetention(20*time.Millisecond), WithReporter(rep))
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("k", task.ErrorStatus, "identity resolution failed"))

	_, ok := r.Get("k")
	assert.True(t, ok, "terminal task is kept during the retention window")

	assert.Eventually(t, func() bool {
		_, ok := r.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, rep.removedKeys(), "k")
}

func TestRetentionPurge_DoesNotDropReplacement(t *testing.T) {
	r := New(WithRetention(30 * time.Millisecond))
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("k", task.CompletedStatus, "done"))

	second, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	got, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}

func TestPurge(t *testing.T) {
	rep := &recordingReporter{}
	r := New(WithReporter(rep))
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	r.Purge("k")

	_, ok := r.Get("k")
	assert.False(t, ok)
	assert.Equal(t, []string{"k"}, rep.removedKeys())
}

func TestClose(t *testing.T) {
	rep := &recordingReporter{}
	r := New(WithReporter(rep))

	_, err := r.Create("a", newTask("a"))
	require.NoError(t, err)
	_, err = r.Create("b", newTask("b"))
	require.NoError(t, err)
	ch, _ := r.Subscribe(4)

	r.Close()

	assert.Empty(t, r.List())
	assert.ElementsMatch(t, []string{"a", "b"}, rep.removedKeys())

	_, err = r.Create("c", newTask("c"))
	assert.ErrorIs(t, err, ErrClosed)

	for range ch {
	}
}

func TestReporter_ReceivesUpdatesInOrder(t *testing.T) {
	rep := &recordingReporter{}
	r := New(WithReporter(rep))
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateProgress("k", 50, "half"))
	require.NoError(t, r.UpdateStatus("k", task.CompletedStatus, "done"))

	assert.Equal(t, []task.TaskStatus{task.RunningStatus, task.RunningStatus, task.CompletedStatus}, rep.statuses())
}

func TestReporter_ErrorsDoNotFailUpdates(t *testing.T) {
	rep := &recordingReporter{err: errors.New("redis down")}
	r := New(WithReporter(rep))
	defer r.Close()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	assert.NoError(t, r.UpdateProgress("k", 10, "x"))
}

func TestSubscribe(t *testing.T) {
	r := New()
	defer r.Close()

	ch, cancel := r.Subscribe(8)

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateProgress("k", 25, "quarter"))

	first := <-ch
	second := <-ch
	assert.Equal(t, 0, first.Progress)
	assert.Equal(t, 25, second.Progress)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribe_DropsWhenFull(t *testing.T) {
	r := New()
	defer r.Close()

	ch, cancel := r.Subscribe(1)
	defer cancel()

	_, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	require.NoError(t, r.UpdateProgress("k", 10, "x"))
	require.NoError(t, r.UpdateProgress("k", 20, "y"))

	assert.Len(t, ch, 1)
}

func TestHandle_ScopedToRun(t *testing.T) {
	r := New()
	defer r.Close()

	first, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	old := r.Handle(first)

	require.NoError(t, r.UpdateStatus("k", task.PausedStatus, "Stopped"))

	second, err := r.Create("k", newTask("k"))
	require.NoError(t, err)

	err = old.Progress(90, "stale", nil)
	assert.ErrorIs(t, err, ErrStaleRun)
	err = old.Finish(task.CompletedStatus, "stale")
	assert.ErrorIs(t, err, ErrStaleRun)

	current := r.Handle(second)
	require.NoError(t, current.Progress(30, "fresh", &task.ModuleData{ModuleNumber: 1, TotalItems: 3, CompletedItems: 1}))

	got, _ := r.Get("k")
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, 1, got.ModuleData.CompletedItems)
	assert.Equal(t, "k", current.Key())
	assert.Equal(t, second.ID, current.RunID())
}

func TestHandle_ConcurrentProgress(t *testing.T) {
	r := New()
	defer r.Close()

	created, err := r.Create("k", newTask("k"))
	require.NoError(t, err)
	h := r.Handle(created)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_ = h.Progress(p, "", nil)
		}(i)
	}
	wg.Wait()

	got, _ := r.Get("k")
	assert.Equal(t, 100, got.Progress)
}
