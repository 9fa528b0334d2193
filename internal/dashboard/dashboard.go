// Package dashboard serves aggregated views over live tasks and finished-run history.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nadmax/autocourse/internal/httputil"
	"github.com/nadmax/autocourse/internal/repository"
	"github.com/nadmax/autocourse/internal/repository/models"
	"github.com/nadmax/autocourse/internal/task"
)

const defaultHistoryLimit = 50

// TaskLister is satisfied by *registry.Registry.
type TaskLister interface {
	List() []task.Task
}

type Dashboard struct {
	tasks TaskLister
	runs  repository.RunRepository
}

type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	RunningTasks    int            `json:"running_tasks"`
	PausedTasks     int            `json:"paused_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	TasksByType     map[string]int `json:"tasks_by_type"`
	ItemsCompleted  int            `json:"items_completed"`
	ItemsTotal      int            `json:"items_total"`
	AverageDuration string         `json:"average_duration"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// NewDashboard builds a dashboard; runs may be nil when no history store is configured.
func NewDashboard(tasks TaskLister, runs repository.RunRepository) *Dashboard {
	return &Dashboard{tasks: tasks, runs: runs}
}

func ComputeStats(tasks []task.Task) Stats {
	stats := Stats{
		TotalTasks:  len(tasks),
		TasksByType: make(map[string]int),
		LastUpdated: time.Now(),
	}

	var totalDuration time.Duration
	finished := 0

	for _, t := range tasks {
		switch t.Status {
		case task.RunningStatus:
			stats.RunningTasks++
		case task.PausedStatus:
			stats.PausedTasks++
		case task.CompletedStatus:
			stats.CompletedTasks++
		case task.ErrorStatus:
			stats.FailedTasks++
		}

		stats.TasksByType[string(t.Type)]++

		if md := t.ModuleData; md != nil {
			stats.ItemsCompleted += md.CompletedItems
			stats.ItemsTotal += md.TotalItems
		}

		if t.FinishedAt != nil {
			totalDuration += t.FinishedAt.Sub(t.StartTime)
			finished++
		}
	}

	if finished > 0 {
		avg := totalDuration / time.Duration(finished)
		stats.AverageDuration = avg.Round(time.Millisecond).String()
	} else {
		stats.AverageDuration = "N/A"
	}

	return stats
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, ComputeStats(d.tasks.List()), http.StatusOK)
}

// GetHistory lists recent finished runs, optionally filtered by ?course=slug.
func (d *Dashboard) GetHistory(w http.ResponseWriter, r *http.Request) {
	if d.runs == nil {
		httputil.WriteJSONError(w, "run history is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	var (
		runs []models.RunRecord
		err  error
	)
	if course := r.URL.Query().Get("course"); course != "" {
		runs, err = d.runs.RunsByCourse(r.Context(), course, limit)
	} else {
		runs, err = d.runs.RecentRuns(r.Context(), limit)
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}

	httputil.WriteJSON(w, runs, http.StatusOK)
}

// GetHistoryStats aggregates finished runs over the last ?hours (default 24).
func (d *Dashboard) GetHistoryStats(w http.ResponseWriter, r *http.Request) {
	if d.runs == nil {
		httputil.WriteJSONError(w, "run history is not configured", http.StatusServiceUnavailable)
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteJSONError(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		hours = n
	}

	stats, err := d.runs.RunStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, stats, http.StatusOK)
}
