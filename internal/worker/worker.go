// Package worker runs follow-up jobs for finished runs (history rows, email
// summaries) off the registry's notification path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/task"
)

var ErrQueueFull = errors.New("finished-run queue is full")

// RunHandler processes one finished run snapshot.
type RunHandler func(ctx context.Context, t task.Task) error

type Worker struct {
	id             string
	jobs           chan task.Task
	names          []string
	handlers       map[string]RunHandler
	maxRetries     int
	retryDelay     time.Duration
	handlerTimeout time.Duration
	stop           chan struct{}
	done           chan struct{}
	stopOnce       sync.Once
	log            *logger.Logger
}

func NewWorker(id string, buffer int, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	if buffer < 1 {
		buffer = 1
	}

	return &Worker{
		id:             id,
		jobs:           make(chan task.Task, buffer),
		handlers:       make(map[string]RunHandler),
		maxRetries:     3,
		retryDelay:     time.Second,
		handlerTimeout: 30 * time.Second,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		log:            log.With("worker", id),
	}
}

// RegisterHandler adds a named handler. Handlers run in registration order.
func (w *Worker) RegisterHandler(name string, handler RunHandler) {
	if _, exists := w.handlers[name]; !exists {
		w.names = append(w.names, name)
	}
	w.handlers[name] = handler
}

func (w *Worker) SetRetry(maxRetries int, delay time.Duration) {
	w.maxRetries = maxRetries
	w.retryDelay = delay
}

// Publish queues snapshots of runs that are no longer running. It never blocks.
func (w *Worker) Publish(_ context.Context, t task.Task) error {
	if t.Status.IsRunning() {
		return nil
	}

	select {
	case w.jobs <- t.Clone():
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, t.Key)
	}
}

func (w *Worker) Remove(context.Context, string) error {
	return nil
}

func (w *Worker) Start() {
	w.log.Info("worker started")
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			w.drain()
			w.log.Info("worker stopped")
			return
		case t := <-w.jobs:
			w.processRun(t)
		}
	}
}

// Stop processes whatever is already queued, then returns.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) drain() {
	for {
		select {
		case t := <-w.jobs:
			w.processRun(t)
		default:
			return
		}
	}
}

func (w *Worker) processRun(t task.Task) {
	log := w.log.With("key", t.Key, "run_id", t.ID, "status", t.Status)
	log.Debug("processing finished run")

	for _, name := range w.names {
		if err := w.runHandler(w.handlers[name], t); err != nil {
			log.Error("run handler failed permanently", "handler", name, "error", err)
			continue
		}
		log.Debug("run handler done", "handler", name)
	}
}

func (w *Worker) runHandler(h RunHandler, t task.Task) error {
	var err error
	for attempt := 1; attempt <= max(w.maxRetries, 1); attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.handlerTimeout)
		err = h(ctx, t)
		cancel()
		if err == nil {
			return nil
		}

		if attempt < w.maxRetries {
			w.log.Warn("run handler failed, will retry", "key", t.Key, "attempt", attempt, "max", w.maxRetries, "error", err)
			time.Sleep(time.Duration(attempt) * w.retryDelay)
		}
	}

	return err
}
