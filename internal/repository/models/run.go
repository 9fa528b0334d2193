// Package models contains data structures used by the run repository layer.
package models

import "time"

// RunRecord is one finished batch or item run as kept in run_history.
type RunRecord struct {
	RunID          string     `json:"run_id"`
	Key            string     `json:"key"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	CourseID       string     `json:"course_id"`
	CourseSlug     string     `json:"course_slug"`
	Message        string     `json:"message"`
	Progress       int        `json:"progress"`
	ModuleNumber   *int       `json:"module_number,omitempty"`
	CompletedItems int        `json:"completed_items"`
	TotalItems     int        `json:"total_items"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DurationMs     *int       `json:"duration_ms,omitempty"`
}

type RunStats struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int     `json:"max_duration_ms"`
	MinDurationMs int     `json:"min_duration_ms"`
	ItemsDone     int     `json:"items_done"`
}
