// Package store mirrors registry snapshots into Redis so that other processes
// (the status command, a second dashboard) can read live task state.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nadmax/autocourse/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	TasksKey        = "autocourse:tasks"
	ProgressChannel = "autocourse:task_progress"
)

var ErrNotFound = errors.New("task not found in store")

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisAddr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Publish writes the snapshot under its key and announces it on ProgressChannel.
func (s *RedisStore) Publish(ctx context.Context, t task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, TasksKey, t.Key, taskJSON)
	pipe.Publish(ctx, ProgressChannel, taskJSON)
	_, err = pipe.Exec(ctx)

	return err
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.HDel(ctx, TasksKey, key).Err()
}

func (s *RedisStore) GetTask(ctx context.Context, key string) (*task.Task, error) {
	taskJSON, err := s.client.HGet(ctx, TasksKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	return task.TaskFromJSON(taskJSON)
}

// GetAllTasks returns every mirrored task ordered by start time. Entries that
// fail to decode are skipped.
func (s *RedisStore) GetAllTasks(ctx context.Context) ([]*task.Task, error) {
	taskMap, err := s.client.HGetAll(ctx, TasksKey).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(taskMap))
	for _, taskJSON := range taskMap {
		t, err := task.TaskFromJSON(taskJSON)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StartTime.Before(tasks[j].StartTime)
	})

	return tasks, nil
}

// Watch streams snapshots published on ProgressChannel until ctx is done.
func (s *RedisStore) Watch(ctx context.Context) (<-chan task.Task, error) {
	sub := s.client.Subscribe(ctx, ProgressChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan task.Task)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				t, err := task.TaskFromJSON(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case out <- *t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
