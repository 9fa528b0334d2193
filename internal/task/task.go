// Package task defines the run-state record tracked by the registry for one
// batch or single-item operation, plus the keys used to address it.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	TaskType   string
	TaskStatus string
	ModuleData struct {
		ModuleNumber   int `json:"module_number"`
		TotalItems     int `json:"total_items"`
		CompletedItems int `json:"completed_items"`
	}
	Task struct {
		ID         string      `json:"id"`
		Key        string      `json:"key"`
		Type       TaskType    `json:"type"`
		Status     TaskStatus  `json:"status"`
		Progress   int         `json:"progress"`
		Message    string      `json:"message"`
		CourseID   string      `json:"course_id,omitempty"`
		CourseSlug string      `json:"course_slug,omitempty"`
		StartTime  time.Time   `json:"start_time"`
		UpdatedAt  time.Time   `json:"updated_at"`
		FinishedAt *time.Time  `json:"finished_at,omitempty"`
		ModuleData *ModuleData `json:"module_data,omitempty"`
	}
)

const (
	SolverType      TaskType = "solver"
	WatcherType     TaskType = "watcher"
	ModuleBatchType TaskType = "module-batch"
)

const (
	RunningStatus   TaskStatus = "running"
	PausedStatus    TaskStatus = "paused"
	CompletedStatus TaskStatus = "completed"
	ErrorStatus     TaskStatus = "error"
)

func NewTask(key string, taskType TaskType, courseID, courseSlug string) Task {
	now := time.Now()
	return Task{
		ID:         uuid.New().String(),
		Key:        key,
		Type:       taskType,
		Status:     RunningStatus,
		Message:    "Starting",
		CourseID:   courseID,
		CourseSlug: courseSlug,
		StartTime:  now,
		UpdatedAt:  now,
	}
}

// IsTerminal reports whether the task reached completed or error.
func (s TaskStatus) IsTerminal() bool {
	return s == CompletedStatus || s == ErrorStatus
}

func (s TaskStatus) IsRunning() bool {
	return s == RunningStatus
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		t.FinishedAt = &f
	}
	if t.ModuleData != nil {
		md := *t.ModuleData
		t.ModuleData = &md
	}

	return t
}

func ItemKey(courseID, itemID string) string {
	return fmt.Sprintf("%s-%s", courseID, itemID)
}

func ModuleKey(courseSlug string, moduleNumber int) string {
	return fmt.Sprintf("module-%s-%d", courseSlug, moduleNumber)
}

func AllModulesKey(courseSlug string) string {
	return fmt.Sprintf("all-modules-%s", courseSlug)
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), err
}

func TaskFromJSON(data string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, err
	}

	return &task, nil
}
