// Package registry keeps the in-memory run state of every batch and
// single-item task. It is the only admission-control point of the system:
// at most one running task exists per key.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/task"
)

var (
	ErrAlreadyRunning    = errors.New("task already running")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrStaleRun          = errors.New("task was replaced by a newer run")
	ErrClosed            = errors.New("registry closed")
)

const (
	DefaultRetention     = 60 * time.Second
	defaultReportTimeout = 5 * time.Second
)

// Reporter receives every task snapshot after a mutation, in mutation order.
type Reporter interface {
	Publish(ctx context.Context, t task.Task) error
	Remove(ctx context.Context, key string) error
}

type entry struct {
	task  task.Task
	purge *time.Timer
}

type Registry struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	subsMu    sync.Mutex
	tasks     map[string]*entry
	subs      map[int]chan task.Task
	nextSub   int
	closed    bool
	retention time.Duration
	reporters []Reporter
	log       *logger.Logger
}

type Option func(*Registry)

func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

func WithReporter(rep Reporter) Option {
	return func(r *Registry) { r.reporters = append(r.reporters, rep) }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		tasks:     make(map[string]*entry),
		subs:      make(map[int]chan task.Task),
		retention: DefaultRetention,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create admits a new task under key. It fails with ErrAlreadyRunning while a
// running task holds the key; a finished or paused task is replaced.
func (r *Registry) Create(key string, t task.Task) (task.Task, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return task.Task{}, ErrClosed
	}
	if e, ok := r.tasks[key]; ok {
		if e.task.Status.IsRunning() {
			r.mu.Unlock()
			return task.Task{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
		}
		if e.purge != nil {
			e.purge.Stop()
		}
	}

	t.Key = key
	t.Status = task.RunningStatus
	if t.StartTime.IsZero() {
		t.StartTime = time.Now()
	}
	t.UpdatedAt = time.Now()
	r.tasks[key] = &entry{task: t.Clone()}
	snapshot := t.Clone()

	r.notifyMu.Lock()
	r.mu.Unlock()
	r.publish(snapshot)
	r.notifyMu.Unlock()

	return snapshot, nil
}

func (r *Registry) Get(key string) (task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[key]
	if !ok {
		return task.Task{}, false
	}

	return e.task.Clone(), true
}

// List returns every tracked task ordered by start time.
func (r *Registry) List() []task.Task {
	r.mu.Lock()
	out := make([]task.Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		out = append(out, e.task.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].Key < out[j].Key
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})

	return out
}

func (r *Registry) UpdateProgress(key string, progress int, message string) error {
	return r.mutate(key, "", func(t *task.Task) error {
		applyProgress(t, progress, message, nil)
		return nil
	})
}

func (r *Registry) UpdateStatus(key string, status task.TaskStatus, message string) error {
	return r.mutate(key, "", func(t *task.Task) error {
		return applyStatus(t, status, message)
	})
}

// Purge drops the task immediately, whatever its state.
func (r *Registry) Purge(key string) {
	r.purge(key, "")
}

// Close tears the registry down: pending purges are cancelled, every task is
// dropped and subscriber channels are closed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	keys := make([]string, 0, len(r.tasks))
	for key, e := range r.tasks {
		if e.purge != nil {
			e.purge.Stop()
		}
		keys = append(keys, key)
	}
	r.tasks = make(map[string]*entry)

	r.subsMu.Lock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.subsMu.Unlock()

	r.notifyMu.Lock()
	r.mu.Unlock()
	for _, key := range keys {
		r.remove(key)
	}
	r.notifyMu.Unlock()
}

// Subscribe returns a channel receiving every task snapshot after each
// mutation. Snapshots are dropped when the channel buffer is full.
func (r *Registry) Subscribe(buffer int) (<-chan task.Task, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	ch := make(chan task.Task, buffer)
	if r.closed {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subsMu.Lock()
			defer r.subsMu.Unlock()
			if c, ok := r.subs[id]; ok {
				close(c)
				delete(r.subs, id)
			}
		})
	}

	return ch, cancel
}

func (r *Registry) mutate(key, runID string, fn func(*task.Task) error) error {
	r.mu.Lock()
	e, ok := r.tasks[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, key)
	}
	if runID != "" && e.task.ID != runID {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStaleRun, key)
	}
	if !e.task.Status.IsRunning() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, key, e.task.Status)
	}

	if err := fn(&e.task); err != nil {
		r.mu.Unlock()
		return err
	}
	e.task.UpdatedAt = time.Now()

	if e.task.Status.IsTerminal() && r.retention > 0 {
		id := e.task.ID
		e.purge = time.AfterFunc(r.retention, func() { r.purge(key, id) })
	}
	snapshot := e.task.Clone()

	r.notifyMu.Lock()
	r.mu.Unlock()
	r.publish(snapshot)
	r.notifyMu.Unlock()

	return nil
}

func (r *Registry) purge(key, runID string) {
	r.mu.Lock()
	e, ok := r.tasks[key]
	if !ok || (runID != "" && e.task.ID != runID) {
		r.mu.Unlock()
		return
	}
	if e.purge != nil {
		e.purge.Stop()
	}
	delete(r.tasks, key)

	r.notifyMu.Lock()
	r.mu.Unlock()
	r.remove(key)
	r.notifyMu.Unlock()
}

// publish must be called with notifyMu held and mu released.
func (r *Registry) publish(t task.Task) {
	r.subsMu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- t.Clone():
		default:
		}
	}
	r.subsMu.Unlock()

	for _, rep := range r.reporters {
		ctx, cancel := context.WithTimeout(context.Background(), defaultReportTimeout)
		if err := rep.Publish(ctx, t); err != nil {
			r.log.Warn("failed to publish task update", "key", t.Key, "error", err)
		}
		cancel()
	}
}

// remove must be called with notifyMu held.
func (r *Registry) remove(key string) {
	for _, rep := range r.reporters {
		ctx, cancel := context.WithTimeout(context.Background(), defaultReportTimeout)
		if err := rep.Remove(ctx, key); err != nil {
			r.log.Warn("failed to remove task from reporter", "key", key, "error", err)
		}
		cancel()
	}
}

func applyProgress(t *task.Task, progress int, message string, data *task.ModuleData) {
	progress = max(0, min(100, progress))
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	if data != nil {
		md := *data
		t.ModuleData = &md
	}
}

func applyStatus(t *task.Task, status task.TaskStatus, message string) error {
	switch status {
	case task.PausedStatus, task.CompletedStatus, task.ErrorStatus:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
	}

	now := time.Now()
	t.Status = status
	t.FinishedAt = &now
	if message != "" {
		t.Message = message
	}

	return nil
}
