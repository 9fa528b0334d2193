package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nadmax/autocourse/internal/batch"
	"github.com/nadmax/autocourse/internal/course"
	"github.com/nadmax/autocourse/internal/handlers"
	"github.com/nadmax/autocourse/internal/platform/dryrun"
	"github.com/nadmax/autocourse/internal/registry"
	"github.com/nadmax/autocourse/internal/repository"
	"github.com/nadmax/autocourse/internal/repository/postgres"
	"github.com/nadmax/autocourse/internal/store"
	"github.com/nadmax/autocourse/internal/worker"
	workerhandlers "github.com/nadmax/autocourse/internal/worker/handlers"
)

const finishedRunBuffer = 256

// stack is everything a batch-running command needs, plus the teardown for
// the optional Redis mirror and finished-run worker.
type stack struct {
	reg      *registry.Registry
	proc     *batch.Processor
	launcher *batch.Launcher
	platform *dryrun.Platform
	course   *course.RawCourse
	runs     repository.RunRepository
	closers  []func()
}

func (s *stack) Close() {
	if s.launcher != nil {
		s.launcher.Close()
	}
	if s.reg != nil {
		s.reg.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStack wires the registry, its reporters and the processor. Optional
// collaborators are enabled by their configuration being present.
func (a *app) buildStack(ctx context.Context, fallbackSlug string) (*stack, error) {
	s := &stack{}
	opts := []registry.Option{
		registry.WithRetention(a.cfg.TaskRetention),
		registry.WithLogger(a.log),
	}

	if a.cfg.RedisAddr != "" {
		rs, err := store.NewRedisStore(a.cfg.RedisAddr)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if err := rs.Close(); err != nil {
				a.log.Warn("failed to close redis store", "error", err)
			}
		})
		opts = append(opts, registry.WithReporter(rs))
		a.log.Info("mirroring tasks to redis", "addr", a.cfg.RedisAddr)
	}

	w, err := a.buildWorker(ctx, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	if w != nil {
		opts = append(opts, registry.WithReporter(w))
	}

	s.reg = registry.New(opts...)

	s.platform = dryrun.New(a.cfg.ReadingMarker, a.log)
	if a.cfg.CourseFile != "" {
		rc, err := s.platform.LoadFile(a.cfg.CourseFile, fallbackSlug)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.course = rc
		a.log.Info("course loaded", "slug", rc.Slug, "modules", len(rc.Modules), "items", len(rc.Items))
	}

	hopts := handlers.Options{
		CallTimeout:   a.cfg.CallTimeout,
		SettleDelay:   a.cfg.SettleDelay,
		ReadingMarker: a.cfg.ReadingMarker,
		Logger:        a.log,
	}
	s.proc = batch.NewProcessor(s.platform, nil, a.cfg.CallTimeout, a.log)
	for itemType, h := range handlers.Defaults(s.platform, hopts) {
		s.proc.RegisterHandler(itemType, h)
	}
	s.launcher = batch.NewLauncher(s.proc, s.reg, a.log)

	return s, nil
}

// buildWorker returns nil when neither run history nor notifications are configured.
func (a *app) buildWorker(ctx context.Context, s *stack) (*worker.Worker, error) {
	notify := a.cfg.NotificationsEnabled()
	if a.cfg.PostgresDSN == "" && !notify {
		return nil, nil
	}

	w := worker.NewWorker("finished-runs", finishedRunBuffer, a.log)

	if a.cfg.PostgresDSN != "" {
		repo, err := postgres.NewPostgresRunRepository(a.cfg.PostgresDSN, a.log)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("ensure run_history schema: %w", err)
		}
		s.runs = repo
		s.closers = append(s.closers, func() {
			if err := repo.Close(); err != nil {
				a.log.Warn("failed to close run repository", "error", err)
			}
		})
		w.RegisterHandler("history", workerhandlers.HistoryHandler(repo))
	}

	if notify {
		n := workerhandlers.NewEmailNotifier(a.cfg.SendGridAPIKey, a.cfg.FromName, a.cfg.FromAddress, a.cfg.NotifyTo, a.log)
		w.RegisterHandler("email", n.Notify)
	}

	go w.Start()
	s.closers = append(s.closers, w.Stop)

	return w, nil
}

var errNoCourseFile = errors.New("no course data source: set --course-file or AUTOCOURSE_COURSE_FILE")
