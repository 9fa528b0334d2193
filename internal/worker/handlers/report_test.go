package handlers

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRequest(t *testing.T) {
	tests := []struct {
		name        string
		req         ReportRequest
		expected    ReportRequest
		expectError bool
	}{
		{
			name: "all fields set",
			req: ReportRequest{
				ReportType: "run_summary",
				StartTime:  "2024-01-01T00:00:00Z",
				Format:     "json",
				OutputPath: "/tmp/reports",
			},
			expected: ReportRequest{
				ReportType: "run_summary",
				StartTime:  "2024-01-01T00:00:00Z",
				Format:     "json",
				OutputPath: "/tmp/reports",
			},
		},
		{
			name: "defaults",
			req:  ReportRequest{ReportType: "course_breakdown"},
			expected: ReportRequest{
				ReportType: "course_breakdown",
				Format:     "csv",
				OutputPath: "./reports",
			},
		},
		{
			name:        "missing report_type",
			req:         ReportRequest{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := normalizeRequest(&req)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, req)
		})
	}
}

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		name        string
		req         ReportRequest
		expectError bool
	}{
		{
			name: "valid time range",
			req: ReportRequest{
				StartTime: "2024-01-01T00:00:00Z",
				EndTime:   "2024-01-02T00:00:00Z",
			},
		},
		{
			name: "empty times use defaults",
			req:  ReportRequest{},
		},
		{
			name:        "invalid start time format",
			req:         ReportRequest{StartTime: "invalid-date"},
			expectError: true,
		},
		{
			name: "invalid end time format",
			req: ReportRequest{
				StartTime: "2024-01-01T00:00:00Z",
				EndTime:   "not-a-date",
			},
			expectError: true,
		},
		{
			name: "end before start",
			req: ReportRequest{
				StartTime: "2024-01-02T00:00:00Z",
				EndTime:   "2024-01-01T00:00:00Z",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseTimeRange(tt.req)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.False(t, start.IsZero())
			assert.False(t, end.IsZero())
			assert.False(t, end.Before(start))
		})
	}
}

func setupReportDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ReportGenerator) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	return db, mock, NewReportGenerator(db, nil)
}

func TestGenerateRunSummary(t *testing.T) {
	db, mock, rg := setupReportDB(t)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{
		"type", "total_runs", "completed", "failed", "stopped",
		"items_done", "items_total", "avg_duration_ms", "max_duration_ms", "item_success_rate",
	}).AddRow("module-batch", 10, 8, 1, 1, 45, 50, 12000.4, 30000, 90.0)

	mock.ExpectQuery(`SELECT\s+type,.*FROM run_history`).WillReturnRows(rows)

	start := time.Now().Add(-time.Hour)
	data, err := rg.generateRunSummary(context.Background(), start, time.Now())
	require.NoError(t, err)

	require.Len(t, data, 2)
	assert.Equal(t, "Run Type", data[0][0])
	assert.Equal(t, []string{"module-batch", "10", "8", "1", "1", "45", "50", "12000", "30000", "90.00"}, data[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateCourseBreakdown(t *testing.T) {
	db, mock, rg := setupReportDB(t)
	defer func() { _ = db.Close() }()

	last := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"course_slug", "runs", "modules", "items_done", "items_total", "last_finished"}).
		AddRow("go-basics", 3, 2, 12, 14, last).
		AddRow("rust-intro", 1, 0, nil, nil, nil)

	mock.ExpectQuery(`SELECT\s+course_slug,.*FROM run_history`).WillReturnRows(rows)

	data, err := rg.generateCourseBreakdown(context.Background(), last.Add(-time.Hour), last)
	require.NoError(t, err)

	require.Len(t, data, 3)
	assert.Equal(t, []string{"go-basics", "3", "2", "12", "14", "2024-03-01 10:30:00"}, data[1])
	assert.Equal(t, []string{"rust-intro", "1", "0", "0", "0", ""}, data[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateFailureAnalysis(t *testing.T) {
	db, mock, rg := setupReportDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"type", "error_type", "occurrences", "last_occurrence"}).
		AddRow("module-batch", "identity resolution failed", 2, now)

	mock.ExpectQuery(`SELECT\s+type,.*FROM run_history.*status = 'error'`).WillReturnRows(rows)

	data, err := rg.generateFailureAnalysis(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "identity resolution failed", data[1][1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateHourlyBreakdown(t *testing.T) {
	db, mock, rg := setupReportDB(t)
	defer func() { _ = db.Close() }()

	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"hour", "total_runs", "completed", "failed", "avg_duration_ms"}).
		AddRow(hour, 4, 3, 1, nil)

	mock.ExpectQuery(`SELECT\s+DATE_TRUNC.*FROM run_history`).WillReturnRows(rows)

	data, err := rg.generateHourlyBreakdown(context.Background(), hour, hour.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, []string{"2024-03-01 10:00", "4", "3", "1", "0"}, data[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		name      string
		val       sql.NullFloat64
		precision int
		expected  string
	}{
		{"valid float with 2 precision", sql.NullFloat64{Float64: 123.456, Valid: true}, 2, "123.46"},
		{"valid float with 0 precision", sql.NullFloat64{Float64: 123.456, Valid: true}, 0, "123"},
		{"null float", sql.NullFloat64{}, 2, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatFloat(tt.val, tt.precision))
		})
	}
}

func TestFormatInt64(t *testing.T) {
	assert.Equal(t, "12345", formatInt64(sql.NullInt64{Int64: 12345, Valid: true}))
	assert.Equal(t, "0", formatInt64(sql.NullInt64{}))
}

func TestSaveAsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.csv")

	data := [][]string{
		{"Header1", "Header2", "Header3"},
		{"Value1", "Value2", "Value3"},
		{"Value4", "Value5", "Value6"},
	}

	require.NoError(t, saveAsCSV(path, data))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, data, records)
}

func TestSaveAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")

	data := [][]string{
		{"Course", "Runs"},
		{"go-basics", "3"},
		{"rust-intro", "1"},
	}

	require.NoError(t, saveAsJSON(path, data))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(content, &result))

	assert.Contains(t, result, "generated_at")
	assert.Equal(t, float64(2), result["total_rows"])
	records := result["data"].([]any)
	assert.Len(t, records, 2)
}

func TestSaveAsJSON_InsufficientData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")

	err := saveAsJSON(path, [][]string{{"Header"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient data")
}

func TestSaveReport(t *testing.T) {
	tmpDir := t.TempDir()
	data := [][]string{{"Col1", "Col2"}, {"Val1", "Val2"}}

	for _, format := range []string{"csv", "json"} {
		t.Run(format, func(t *testing.T) {
			path, err := saveReport(ReportRequest{ReportType: "test_report", Format: format, OutputPath: tmpDir}, data)
			require.NoError(t, err)
			assert.Contains(t, path, "autocourse_test_report")
			assert.Equal(t, "."+format, filepath.Ext(path))

			_, err = os.Stat(path)
			assert.NoError(t, err)
		})
	}

	_, err := saveReport(ReportRequest{ReportType: "test_report", Format: "xml", OutputPath: tmpDir}, data)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	db, mock, rg := setupReportDB(t)
	defer func() { _ = db.Close() }()
	tmpDir := t.TempDir()

	t.Run("run_summary report", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"type", "total_runs", "completed", "failed", "stopped",
			"items_done", "items_total", "avg_duration_ms", "max_duration_ms", "item_success_rate",
		}).AddRow("watcher", 2, 2, 0, 0, 2, 2, 800.0, 900, 100.0)

		mock.ExpectQuery(`SELECT\s+type,.*FROM run_history`).WillReturnRows(rows)

		path, err := rg.Generate(context.Background(), ReportRequest{
			ReportType: "run_summary",
			StartTime:  "2024-01-01T00:00:00Z",
			EndTime:    "2024-01-02T00:00:00Z",
			OutputPath: tmpDir,
		})
		require.NoError(t, err)
		assert.Equal(t, ".csv", filepath.Ext(path))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request", func(t *testing.T) {
		_, err := rg.Generate(context.Background(), ReportRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid request")
	})

	t.Run("unsupported report type", func(t *testing.T) {
		_, err := rg.Generate(context.Background(), ReportRequest{ReportType: "worker_performance", OutputPath: tmpDir})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported report type")
	})
}
