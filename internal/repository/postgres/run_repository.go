// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/repository/models"
)

const Schema = `
CREATE TABLE IF NOT EXISTS run_history (
	run_id          TEXT PRIMARY KEY,
	task_key        TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	course_id       TEXT NOT NULL,
	course_slug     TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	progress        INTEGER NOT NULL DEFAULT 0,
	module_number   INTEGER,
	completed_items INTEGER NOT NULL DEFAULT 0,
	total_items     INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	duration_ms     INTEGER
);
CREATE INDEX IF NOT EXISTS run_history_course_idx ON run_history (course_slug, started_at DESC);
`

const selectColumns = `
	run_id, task_key, type, status, course_id, course_slug, message,
	progress, module_number, completed_items, total_items,
	started_at, finished_at, duration_ms
`

type PostgresRunRepository struct {
	db  *sql.DB
	log *logger.Logger
}

func NewPostgresRunRepository(connectionString string, log *logger.Logger) (*PostgresRunRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an open handle; tests pass a sqlmock connection here.
func NewWithDB(db *sql.DB, log *logger.Logger) *PostgresRunRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &PostgresRunRepository{db: db, log: log}
}

func (r *PostgresRunRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *PostgresRunRepository) SaveRun(ctx context.Context, run models.RunRecord) error {
	query := `
		INSERT INTO run_history (
			run_id, task_key, type, status, course_id, course_slug, message,
			progress, module_number, completed_items, total_items,
			started_at, finished_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			progress = EXCLUDED.progress,
			completed_items = EXCLUDED.completed_items,
			total_items = EXCLUDED.total_items,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms
	`

	var moduleNumber, finishedAt, durationMs any
	if run.ModuleNumber != nil {
		moduleNumber = *run.ModuleNumber
	}
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	if run.DurationMs != nil {
		durationMs = *run.DurationMs
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		run.RunID,
		run.Key,
		run.Type,
		run.Status,
		run.CourseID,
		run.CourseSlug,
		run.Message,
		run.Progress,
		moduleNumber,
		run.CompletedItems,
		run.TotalItems,
		run.StartedAt,
		finishedAt,
		durationMs,
	)

	return err
}

func (r *PostgresRunRepository) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM run_history WHERE run_id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		return nil, err
	}

	return run, nil
}

func (r *PostgresRunRepository) RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM run_history ORDER BY started_at DESC LIMIT $1`
	return r.queryRuns(ctx, query, limit)
}

func (r *PostgresRunRepository) RunsByCourse(ctx context.Context, courseSlug string, limit int) ([]models.RunRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM run_history WHERE course_slug = $1 ORDER BY started_at DESC LIMIT $2`
	return r.queryRuns(ctx, query, courseSlug, limit)
}

func (r *PostgresRunRepository) RunStats(ctx context.Context, hours int) ([]models.RunStats, error) {
	query := `
		SELECT
			type, status, COUNT(*) as count,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms,
			COALESCE(MIN(duration_ms), 0) as min_duration_ms,
			COALESCE(SUM(completed_items), 0) as items_done
		FROM run_history
		WHERE started_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY type, status
		ORDER BY type, status
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	var stats []models.RunStats
	for rows.Next() {
		var s models.RunStats
		if err := rows.Scan(
			&s.Type,
			&s.Status,
			&s.Count,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
			&s.MinDurationMs,
			&s.ItemsDone,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// DB exposes the pool for read-only reporting queries.
func (r *PostgresRunRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresRunRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]models.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows)

	var runs []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

func (r *PostgresRunRepository) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.log.Warn("failed to close rows", "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.RunRecord, error) {
	var (
		run          models.RunRecord
		moduleNumber sql.NullInt64
		finishedAt   sql.NullTime
		durationMs   sql.NullInt64
	)

	if err := s.Scan(
		&run.RunID,
		&run.Key,
		&run.Type,
		&run.Status,
		&run.CourseID,
		&run.CourseSlug,
		&run.Message,
		&run.Progress,
		&moduleNumber,
		&run.CompletedItems,
		&run.TotalItems,
		&run.StartedAt,
		&finishedAt,
		&durationMs,
	); err != nil {
		return nil, err
	}

	if moduleNumber.Valid {
		n := int(moduleNumber.Int64)
		run.ModuleNumber = &n
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if durationMs.Valid {
		d := int(durationMs.Int64)
		run.DurationMs = &d
	}

	return &run, nil
}
