// Package repository defines persistence for finished run history.
package repository

import (
	"context"

	"github.com/nadmax/autocourse/internal/repository/models"
)

type RunRepository interface {
	SaveRun(ctx context.Context, r models.RunRecord) error
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
	RunsByCourse(ctx context.Context, courseSlug string, limit int) ([]models.RunRecord, error)
	RunStats(ctx context.Context, hours int) ([]models.RunStats, error)
	Close() error
}
