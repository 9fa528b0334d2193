package registry

import (
	"time"

	"github.com/nadmax/autocourse/internal/task"
)

// Handle scopes updates to one run of a task. Updates fail with ErrStaleRun
// once another run has replaced it under the same key.
type Handle struct {
	reg     *Registry
	key     string
	runID   string
	typ     task.TaskType
	started time.Time
}

func (r *Registry) Handle(t task.Task) *Handle {
	return &Handle{reg: r, key: t.Key, runID: t.ID, typ: t.Type, started: t.StartTime}
}

func (h *Handle) Key() string { return h.key }

func (h *Handle) RunID() string { return h.runID }

func (h *Handle) Type() task.TaskType { return h.typ }

func (h *Handle) StartTime() time.Time { return h.started }

func (h *Handle) Progress(progress int, message string, data *task.ModuleData) error {
	return h.reg.mutate(h.key, h.runID, func(t *task.Task) error {
		applyProgress(t, progress, message, data)
		return nil
	})
}

func (h *Handle) Finish(status task.TaskStatus, message string) error {
	return h.reg.mutate(h.key, h.runID, func(t *task.Task) error {
		return applyStatus(t, status, message)
	})
}
