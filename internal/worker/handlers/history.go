package handlers

import (
	"context"
	"fmt"

	"github.com/nadmax/autocourse/internal/repository"
	"github.com/nadmax/autocourse/internal/repository/models"
	"github.com/nadmax/autocourse/internal/task"
)

func RecordFromTask(t task.Task) models.RunRecord {
	r := models.RunRecord{
		RunID:      t.ID,
		Key:        t.Key,
		Type:       string(t.Type),
		Status:     string(t.Status),
		CourseID:   t.CourseID,
		CourseSlug: t.CourseSlug,
		Message:    t.Message,
		Progress:   t.Progress,
		StartedAt:  t.StartTime,
	}

	if md := t.ModuleData; md != nil {
		n := md.ModuleNumber
		r.ModuleNumber = &n
		r.CompletedItems = md.CompletedItems
		r.TotalItems = md.TotalItems
	}

	finished := t.FinishedAt
	if finished == nil {
		u := t.UpdatedAt
		finished = &u
	}
	r.FinishedAt = finished
	d := int(finished.Sub(t.StartTime).Milliseconds())
	r.DurationMs = &d

	return r
}

// HistoryHandler persists every finished run.
func HistoryHandler(repo repository.RunRepository) func(context.Context, task.Task) error {
	return func(ctx context.Context, t task.Task) error {
		if err := repo.SaveRun(ctx, RecordFromTask(t)); err != nil {
			return fmt.Errorf("failed to save run %s: %w", t.ID, err)
		}
		return nil
	}
}
