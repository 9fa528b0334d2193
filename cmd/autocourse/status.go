package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nadmax/autocourse/internal/store"
	"github.com/nadmax/autocourse/internal/task"
	"github.com/spf13/cobra"
)

var errNoRedis = errors.New("status reads the Redis task mirror: set --redis or REDIS_ADDR")

func newStatusCmd(a *app) *cobra.Command {
	var (
		key   string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tasks mirrored to Redis by a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.RedisAddr == "" {
				return errNoRedis
			}

			rs, err := store.NewRedisStore(a.cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() {
				if err := rs.Close(); err != nil {
					a.log.Warn("failed to close redis store", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			switch {
			case watch:
				return watchTasks(ctx, out, rs, key)
			case key != "":
				return showTask(ctx, out, rs, key)
			default:
				return listTasks(ctx, out, rs)
			}
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "show a single task as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream progress updates until interrupted")
	return cmd
}

func listTasks(ctx context.Context, out io.Writer, rs *store.RedisStore) error {
	tasks, err := rs.GetAllTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tSTATUS\tPROGRESS\tSTARTED\tMESSAGE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			t.Key, t.Type, t.Status, t.Progress, t.StartTime.Format(time.TimeOnly), t.Message)
	}
	return tw.Flush()
}

func showTask(ctx context.Context, out io.Writer, rs *store.RedisStore, key string) error {
	t, err := rs.GetTask(ctx, key)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func watchTasks(ctx context.Context, out io.Writer, rs *store.RedisStore, key string) error {
	updates, err := rs.Watch(ctx)
	if err != nil {
		return err
	}

	for t := range updates {
		if key != "" && t.Key != key {
			continue
		}
		printWatched(out, t)
	}
	return nil
}

func printWatched(out io.Writer, t task.Task) {
	fmt.Fprintf(out, "%s %-9s [%3d%%] %s\n", t.Key, t.Status, t.Progress, t.Message)
}
