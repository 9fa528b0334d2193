package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nadmax/autocourse/internal/repository/models"
)

type MockRunRepository struct {
	mu              sync.Mutex
	SaveRunCalls    []models.RunRecord
	RecentRunsCalls []int
	Runs            map[string]models.RunRecord
	Stats           []models.RunStats
	SaveRunError    error
	GetRunError     error
	RecentRunsError error
	RunsByCourseErr error
	RunStatsError   error
	Closed          bool
}

func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{
		Runs:  make(map[string]models.RunRecord),
		Stats: make([]models.RunStats, 0),
	}
}

func (m *MockRunRepository) SaveRun(ctx context.Context, r models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCalls = append(m.SaveRunCalls, r)

	if m.SaveRunError != nil {
		return m.SaveRunError
	}

	m.Runs[r.RunID] = r
	return nil
}

func (m *MockRunRepository) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetRunError != nil {
		return nil, m.GetRunError
	}

	r, exists := m.Runs[runID]
	if !exists {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	return &r, nil
}

func (m *MockRunRepository) RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecentRunsCalls = append(m.RecentRunsCalls, limit)

	if m.RecentRunsError != nil {
		return nil, m.RecentRunsError
	}

	return m.sorted(func(models.RunRecord) bool { return true }, limit), nil
}

func (m *MockRunRepository) RunsByCourse(ctx context.Context, courseSlug string, limit int) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RunsByCourseErr != nil {
		return nil, m.RunsByCourseErr
	}

	return m.sorted(func(r models.RunRecord) bool { return r.CourseSlug == courseSlug }, limit), nil
}

func (m *MockRunRepository) RunStats(ctx context.Context, hours int) ([]models.RunStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RunStatsError != nil {
		return nil, m.RunStatsError
	}

	return append([]models.RunStats(nil), m.Stats...), nil
}

func (m *MockRunRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
	return nil
}

func (m *MockRunRepository) GetSaveRunCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveRunCalls)
}

func (m *MockRunRepository) WasRunSaved(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.Runs[runID]
	return ok
}

// sorted returns matching runs newest first; callers hold m.mu.
func (m *MockRunRepository) sorted(match func(models.RunRecord) bool, limit int) []models.RunRecord {
	out := make([]models.RunRecord, 0, len(m.Runs))
	for _, r := range m.Runs {
		if match(r) {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
