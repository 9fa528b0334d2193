package handlers

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nadmax/autocourse/internal/logger"
)

var ReportTypes = []string{"run_summary", "course_breakdown", "failure_analysis", "hourly_breakdown"}

type ReportRequest struct {
	ReportType string `json:"report_type"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
}

// ReportGenerator exports aggregates of run_history to CSV or JSON files.
type ReportGenerator struct {
	db  *sql.DB
	log *logger.Logger
}

func NewReportGenerator(db *sql.DB, log *logger.Logger) *ReportGenerator {
	if log == nil {
		log = logger.Nop()
	}
	return &ReportGenerator{db: db, log: log.With("component", "report")}
}

// Generate builds the requested report and returns the written file path.
func (rg *ReportGenerator) Generate(ctx context.Context, req ReportRequest) (string, error) {
	if err := normalizeRequest(&req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}

	startTime, endTime, err := parseTimeRange(req)
	if err != nil {
		return "", fmt.Errorf("invalid time range: %w", err)
	}

	rg.log.Info("generating report", "type", req.ReportType, "format", req.Format,
		"from", startTime.Format(time.RFC3339), "to", endTime.Format(time.RFC3339))

	var data [][]string
	switch req.ReportType {
	case "run_summary":
		data, err = rg.generateRunSummary(ctx, startTime, endTime)
	case "course_breakdown":
		data, err = rg.generateCourseBreakdown(ctx, startTime, endTime)
	case "failure_analysis":
		data, err = rg.generateFailureAnalysis(ctx, startTime, endTime)
	case "hourly_breakdown":
		data, err = rg.generateHourlyBreakdown(ctx, startTime, endTime)
	default:
		return "", fmt.Errorf("unsupported report type: %s (available: run_summary, course_breakdown, failure_analysis, hourly_breakdown)", req.ReportType)
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	outputFile, err := saveReport(req, data)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	rg.log.Info("report generated", "path", outputFile, "rows", len(data)-1)
	return outputFile, nil
}

func normalizeRequest(req *ReportRequest) error {
	if req.ReportType == "" {
		return errors.New("missing required field: report_type")
	}
	if req.OutputPath == "" {
		req.OutputPath = "./reports"
	}
	if req.Format == "" {
		req.Format = "csv"
	}
	return nil
}

func parseTimeRange(req ReportRequest) (time.Time, time.Time, error) {
	var startTime, endTime time.Time
	var err error

	if req.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_time format: %w", err)
		}
	} else {
		startTime = time.Now().Add(-24 * time.Hour)
	}

	if req.EndTime != "" {
		endTime, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_time format: %w", err)
		}
	} else {
		endTime = time.Now()
	}

	if endTime.Before(startTime) {
		return time.Time{}, time.Time{}, errors.New("end_time is before start_time")
	}

	return startTime, endTime, nil
}

func (rg *ReportGenerator) query(ctx context.Context, query string, header []string, scan func(*sql.Rows) ([]string, error), args ...any) ([][]string, error) {
	rows, err := rg.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			rg.log.Warn("failed to close rows", "error", closeErr)
		}
	}()

	data := [][]string{header}
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		data = append(data, row)
	}

	return data, rows.Err()
}

func (rg *ReportGenerator) generateRunSummary(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			type,
			COUNT(*) as total_runs,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'error') as failed,
			COUNT(*) FILTER (WHERE status = 'paused') as stopped,
			SUM(completed_items) as items_done,
			SUM(total_items) as items_total,
			AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL) as avg_duration_ms,
			MAX(duration_ms) as max_duration_ms,
			ROUND(100.0 * SUM(completed_items) / NULLIF(SUM(total_items), 0), 2) as item_success_rate
		FROM run_history
		WHERE started_at BETWEEN $1 AND $2
		GROUP BY type
		ORDER BY total_runs DESC
	`
	header := []string{"Run Type", "Total", "Completed", "Failed", "Stopped", "Items Done", "Items Total", "Avg Duration (ms)", "Max Duration (ms)", "Item Success Rate (%)"}

	return rg.query(ctx, query, header, func(rows *sql.Rows) ([]string, error) {
		var runType string
		var total, completed, failed, stopped int
		var itemsDone, itemsTotal, maxDuration sql.NullInt64
		var avgDuration, successRate sql.NullFloat64

		if err := rows.Scan(&runType, &total, &completed, &failed, &stopped, &itemsDone, &itemsTotal, &avgDuration, &maxDuration, &successRate); err != nil {
			return nil, err
		}

		return []string{
			runType,
			fmt.Sprintf("%d", total),
			fmt.Sprintf("%d", completed),
			fmt.Sprintf("%d", failed),
			fmt.Sprintf("%d", stopped),
			formatInt64(itemsDone),
			formatInt64(itemsTotal),
			formatFloat(avgDuration, 0),
			formatInt64(maxDuration),
			formatFloat(successRate, 2),
		}, nil
	}, startTime, endTime)
}

func (rg *ReportGenerator) generateCourseBreakdown(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			course_slug,
			COUNT(*) as runs,
			COUNT(DISTINCT module_number) as modules,
			SUM(completed_items) as items_done,
			SUM(total_items) as items_total,
			MAX(finished_at) as last_finished
		FROM run_history
		WHERE started_at BETWEEN $1 AND $2
		GROUP BY course_slug
		ORDER BY runs DESC
	`
	header := []string{"Course", "Runs", "Modules", "Items Done", "Items Total", "Last Finished"}

	return rg.query(ctx, query, header, func(rows *sql.Rows) ([]string, error) {
		var slug string
		var runs, modules int
		var itemsDone, itemsTotal sql.NullInt64
		var lastFinished sql.NullTime

		if err := rows.Scan(&slug, &runs, &modules, &itemsDone, &itemsTotal, &lastFinished); err != nil {
			return nil, err
		}

		last := ""
		if lastFinished.Valid {
			last = lastFinished.Time.Format("2006-01-02 15:04:05")
		}

		return []string{
			slug,
			fmt.Sprintf("%d", runs),
			fmt.Sprintf("%d", modules),
			formatInt64(itemsDone),
			formatInt64(itemsTotal),
			last,
		}, nil
	}, startTime, endTime)
}

func (rg *ReportGenerator) generateFailureAnalysis(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			type,
			LEFT(COALESCE(NULLIF(message, ''), 'unknown'), 100) as error_type,
			COUNT(*) as occurrences,
			MAX(started_at) as last_occurrence
		FROM run_history
		WHERE started_at BETWEEN $1 AND $2
			AND status = 'error'
		GROUP BY type, LEFT(COALESCE(NULLIF(message, ''), 'unknown'), 100)
		ORDER BY occurrences DESC
		LIMIT 50
	`
	header := []string{"Run Type", "Error", "Occurrences", "Last Occurrence"}

	return rg.query(ctx, query, header, func(rows *sql.Rows) ([]string, error) {
		var runType, errorType string
		var occurrences int
		var lastOccurrence time.Time

		if err := rows.Scan(&runType, &errorType, &occurrences, &lastOccurrence); err != nil {
			return nil, err
		}

		return []string{
			runType,
			errorType,
			fmt.Sprintf("%d", occurrences),
			lastOccurrence.Format("2006-01-02 15:04:05"),
		}, nil
	}, startTime, endTime)
}

func (rg *ReportGenerator) generateHourlyBreakdown(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			DATE_TRUNC('hour', started_at) as hour,
			COUNT(*) as total_runs,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'error') as failed,
			AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL) as avg_duration_ms
		FROM run_history
		WHERE started_at BETWEEN $1 AND $2
		GROUP BY DATE_TRUNC('hour', started_at)
		ORDER BY hour DESC
	`
	header := []string{"Hour", "Total Runs", "Completed", "Failed", "Avg Duration (ms)"}

	return rg.query(ctx, query, header, func(rows *sql.Rows) ([]string, error) {
		var hour time.Time
		var total, completed, failed int
		var avgDuration sql.NullFloat64

		if err := rows.Scan(&hour, &total, &completed, &failed, &avgDuration); err != nil {
			return nil, err
		}

		return []string{
			hour.Format("2006-01-02 15:00"),
			fmt.Sprintf("%d", total),
			fmt.Sprintf("%d", completed),
			fmt.Sprintf("%d", failed),
			formatFloat(avgDuration, 0),
		}, nil
	}, startTime, endTime)
}

func formatFloat(val sql.NullFloat64, precision int) string {
	if !val.Valid {
		return "0"
	}
	return fmt.Sprintf("%.*f", precision, val.Float64)
}

func formatInt64(val sql.NullInt64) string {
	if !val.Valid {
		return "0"
	}
	return fmt.Sprintf("%d", val.Int64)
}

func saveReport(req ReportRequest, data [][]string) (string, error) {
	if err := os.MkdirAll(req.OutputPath, 0755); err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("autocourse_%s_%s.%s", req.ReportType, timestamp, req.Format)
	fullPath := filepath.Join(req.OutputPath, filename)

	switch req.Format {
	case "csv":
		return fullPath, saveAsCSV(fullPath, data)
	case "json":
		return fullPath, saveAsJSON(fullPath, data)
	default:
		return "", fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func saveAsCSV(path string, data [][]string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return err
	}

	return writer.Error()
}

func saveAsJSON(path string, data [][]string) (err error) {
	if len(data) < 2 {
		return errors.New("insufficient data for JSON export")
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	headers := data[0]
	records := make([]map[string]string, 0, len(data)-1)
	for _, row := range data[1:] {
		record := make(map[string]string)
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}

		records = append(records, record)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"generated_at": time.Now().Format(time.RFC3339),
		"data":         records,
		"total_rows":   len(records),
	})
}
