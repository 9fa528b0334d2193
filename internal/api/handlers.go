// Package api exposes the task launcher and registry over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nadmax/autocourse/internal/batch"
	"github.com/nadmax/autocourse/internal/dashboard"
	"github.com/nadmax/autocourse/internal/httputil"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/registry"
	"github.com/nadmax/autocourse/internal/repository"
	"github.com/nadmax/autocourse/internal/repository/models"
	"github.com/nadmax/autocourse/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

type Launcher interface {
	Start(req batch.StartRequest) (string, error)
	StartItem(req batch.ItemRequest) (string, error)
	Stop(key string) error
}

type Tasks interface {
	Get(key string) (task.Task, bool)
	List() []task.Task
	Purge(key string)
}

type API struct {
	launcher Launcher
	tasks    Tasks
	runs     repository.RunRepository
	log      *logger.Logger
	mux      *http.ServeMux
}

type StartResponse struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// NewAPI wires the routes; runs may be nil when no history store is configured.
func NewAPI(l Launcher, tasks Tasks, runs repository.RunRepository, log *logger.Logger) *API {
	if log == nil {
		log = logger.Nop()
	}

	api := &API{
		launcher: l,
		tasks:    tasks,
		runs:     runs,
		log:      log.With("component", "api"),
		mux:      http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/batches", a.handleBatches)
	a.mux.HandleFunc("/api/items", a.handleItems)
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByKey)

	dash := dashboard.NewDashboard(a.tasks, a.runs)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/history", dash.GetHistory)
	a.mux.HandleFunc("/api/history/stats", dash.GetHistoryStats)
	a.mux.HandleFunc("/api/history/runs/", a.handleRunByID)
	a.mux.HandleFunc("/api/history/course/", a.handleRunsByCourse)

	a.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	a.mux.Handle("/metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batch.StartRequest
	if !a.decode(w, r, &req) {
		return
	}

	key, err := a.launcher.Start(req)
	a.respondStarted(w, key, err)
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batch.ItemRequest
	if !a.decode(w, r, &req) {
		return
	}

	key, err := a.launcher.StartItem(req)
	a.respondStarted(w, key, err)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			a.log.Warn("failed to close request body", "error", err)
		}
	}()

	if err := json.Unmarshal(body, v); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}

	return true
}

func (a *API) respondStarted(w http.ResponseWriter, key string, err error) {
	switch {
	case err == nil:
		httputil.WriteJSON(w, StartResponse{Key: key, Message: "started"}, http.StatusAccepted)
	case errors.Is(err, registry.ErrAlreadyRunning):
		httputil.WriteJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, batch.ErrInvalidRequest):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrClosed):
		httputil.WriteJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.log.Error("start failed", "error", err)
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tasks := a.tasks.List()
	if tasks == nil {
		tasks = []task.Task{}
	}
	httputil.WriteJSON(w, tasks, http.StatusOK)
}

// handleTaskByKey serves /api/tasks/{key} and /api/tasks/{key}/stop.
func (a *API) handleTaskByKey(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	key, action, _ := strings.Cut(rest, "/")
	if key == "" {
		httputil.WriteJSONError(w, "Task key is required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "stop" && r.Method == http.MethodPost:
		a.stopTask(w, key)
	case action == "" && r.Method == http.MethodGet:
		a.getTask(w, key)
	case action == "" && r.Method == http.MethodDelete:
		a.purgeTask(w, key)
	case action != "" && action != "stop":
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) getTask(w http.ResponseWriter, key string) {
	t, ok := a.tasks.Get(key)
	if !ok {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, t, http.StatusOK)
}

func (a *API) stopTask(w http.ResponseWriter, key string) {
	err := a.launcher.Stop(key)
	switch {
	case err == nil:
		t, _ := a.tasks.Get(key)
		httputil.WriteJSON(w, t, http.StatusOK)
	case errors.Is(err, registry.ErrTaskNotFound):
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrInvalidTransition):
		httputil.WriteJSONError(w, "Task is not running", http.StatusConflict)
	default:
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *API) purgeTask(w http.ResponseWriter, key string) {
	t, ok := a.tasks.Get(key)
	if !ok {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if t.Status.IsRunning() {
		httputil.WriteJSONError(w, "Task is running; stop it first", http.StatusConflict)
		return
	}

	a.tasks.Purge(key)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.runs == nil {
		httputil.WriteJSONError(w, "run history is not configured", http.StatusServiceUnavailable)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/history/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		httputil.WriteJSONError(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	run, err := a.runs.GetRun(r.Context(), runID)
	if err != nil {
		httputil.WriteJSONError(w, "Run not found", http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, run, http.StatusOK)
}

func (a *API) handleRunsByCourse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.runs == nil {
		httputil.WriteJSONError(w, "run history is not configured", http.StatusServiceUnavailable)
		return
	}

	slug := strings.TrimPrefix(r.URL.Path, "/api/history/course/")
	if slug == "" || strings.Contains(slug, "/") {
		httputil.WriteJSONError(w, "Course slug is required", http.StatusBadRequest)
		return
	}

	runs, err := a.runs.RunsByCourse(r.Context(), slug, 50)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}

	httputil.WriteJSON(w, runs, http.StatusOK)
}
