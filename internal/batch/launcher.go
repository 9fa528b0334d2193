package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/registry"
	"github.com/nadmax/autocourse/internal/task"
)

var ErrInvalidRequest = errors.New("invalid start request")

type StartRequest struct {
	CourseID     string `json:"course_id"`
	CourseSlug   string `json:"course_slug"`
	ModuleNumber *int   `json:"module_number,omitempty"`
}

type ItemRequest struct {
	CourseID   string `json:"course_id"`
	CourseSlug string `json:"course_slug"`
	ItemID     string `json:"item_id"`
}

// Launcher admits start requests through the registry and runs each accepted
// batch in its own goroutine. Stop only pauses a task for observers; calls
// already issued by the batch keep running until Close.
type Launcher struct {
	proc   *Processor
	reg    *registry.Registry
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLauncher(proc *Processor, reg *registry.Registry, log *logger.Logger) *Launcher {
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		proc:   proc,
		reg:    reg,
		log:    log.With("component", "launcher"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches a module batch, or an all-modules batch when ModuleNumber is nil.
func (l *Launcher) Start(req StartRequest) (string, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.CourseSlug = strings.TrimSpace(req.CourseSlug)
	if req.CourseID == "" || req.CourseSlug == "" {
		return "", fmt.Errorf("%w: course_id and course_slug are required", ErrInvalidRequest)
	}

	key := task.AllModulesKey(req.CourseSlug)
	if req.ModuleNumber != nil {
		key = task.ModuleKey(req.CourseSlug, *req.ModuleNumber)
	}

	created, err := l.reg.Create(key, task.NewTask(key, task.ModuleBatchType, req.CourseID, req.CourseSlug))
	if err != nil {
		return "", err
	}
	h := l.reg.Handle(created)

	l.spawn(func(ctx context.Context) {
		if req.ModuleNumber != nil {
			l.proc.RunModule(ctx, h, req.CourseID, req.CourseSlug, *req.ModuleNumber)
			return
		}
		l.proc.RunAllModules(ctx, h, req.CourseID, req.CourseSlug)
	})

	l.log.Info("batch started", "key", key, "run_id", created.ID)
	return key, nil
}

// StartItem launches a single-item task.
func (l *Launcher) StartItem(req ItemRequest) (string, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.CourseSlug = strings.TrimSpace(req.CourseSlug)
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.CourseID == "" || req.CourseSlug == "" || req.ItemID == "" {
		return "", fmt.Errorf("%w: course_id, course_slug and item_id are required", ErrInvalidRequest)
	}

	key := task.ItemKey(req.CourseID, req.ItemID)
	created, err := l.reg.Create(key, task.NewTask(key, task.WatcherType, req.CourseID, req.CourseSlug))
	if err != nil {
		return "", err
	}
	h := l.reg.Handle(created)

	l.spawn(func(ctx context.Context) {
		l.proc.RunItem(ctx, h, req.CourseID, req.CourseSlug, req.ItemID)
	})

	l.log.Info("item task started", "key", key, "run_id", created.ID)
	return key, nil
}

// Stop pauses a running task.
func (l *Launcher) Stop(key string) error {
	if err := l.reg.UpdateStatus(key, task.PausedStatus, "Stopped"); err != nil {
		return err
	}

	l.log.Info("task stopped", "key", key)
	return nil
}

// Wait blocks until every launched batch has returned.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Close cancels in-flight batches and waits for them.
func (l *Launcher) Close() {
	l.cancel()
	l.wg.Wait()
}

func (l *Launcher) spawn(fn func(ctx context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn(l.ctx)
	}()
}
