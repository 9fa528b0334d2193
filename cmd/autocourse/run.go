package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nadmax/autocourse/internal/batch"
	"github.com/nadmax/autocourse/internal/task"
	"github.com/spf13/cobra"
)

type runOptions struct {
	courseID   string
	courseSlug string
	module     int
	itemID     string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch in the foreground and print its progress",
		Example: `  autocourse run --course-file course.json --course-id c1 --course-slug go-basics --module 2
  autocourse run --course-file course.json
  autocourse run --course-file course.json --course-id c1 --course-slug go-basics --item v1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.runBatch(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.courseID, "course-id", "", "platform course ID (defaults to the id in the course file)")
	cmd.Flags().StringVar(&opts.courseSlug, "course-slug", "", "course slug (defaults to the slug in the course file)")
	cmd.Flags().IntVar(&opts.module, "module", 0, "module number (1-indexed); 0 runs every module")
	cmd.Flags().StringVar(&opts.itemID, "item", "", "complete a single item instead of a module")

	return cmd
}

func (a *app) runBatch(ctx context.Context, out io.Writer, opts runOptions) error {
	if a.cfg.CourseFile == "" {
		return errNoCourseFile
	}

	s, err := a.buildStack(ctx, opts.courseSlug)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.course != nil {
		if opts.courseSlug == "" {
			opts.courseSlug = s.course.Slug
		}
		if opts.courseID == "" {
			opts.courseID = s.course.ID
		}
	}

	updates, unsubscribe := s.reg.Subscribe(64)
	defer unsubscribe()

	var key string
	switch {
	case opts.itemID != "":
		key, err = s.launcher.StartItem(batch.ItemRequest{CourseID: opts.courseID, CourseSlug: opts.courseSlug, ItemID: opts.itemID})
	case opts.module > 0:
		n := opts.module
		key, err = s.launcher.Start(batch.StartRequest{CourseID: opts.courseID, CourseSlug: opts.courseSlug, ModuleNumber: &n})
	default:
		key, err = s.launcher.Start(batch.StartRequest{CourseID: opts.courseID, CourseSlug: opts.courseSlug})
	}
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.launcher.Wait()
		close(done)
	}()

	interrupted := ctx.Done()
loop:
	for {
		select {
		case t := <-updates:
			printProgress(out, key, t)
		case <-interrupted:
			interrupted = nil
			if err := s.launcher.Stop(key); err != nil {
				a.log.Debug("stop after interrupt", "key", key, "error", err)
			}
			s.launcher.Close()
		case <-done:
			break loop
		}
	}

	for drained := false; !drained; {
		select {
		case t := <-updates:
			printProgress(out, key, t)
		default:
			drained = true
		}
	}

	final, ok := s.reg.Get(key)
	if !ok {
		return fmt.Errorf("task %s disappeared before it finished", key)
	}
	fmt.Fprintf(out, "%s: %s (%s)\n", key, final.Status, final.Message)

	if final.Status == task.ErrorStatus {
		return fmt.Errorf("batch %s failed: %s", key, final.Message)
	}
	return nil
}

func printProgress(out io.Writer, key string, t task.Task) {
	if t.Key != key || !t.Status.IsRunning() || t.Message == "" {
		return
	}
	fmt.Fprintf(out, "[%3d%%] %s\n", t.Progress, t.Message)
}
